package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"mangosqueezy/internal/common"
)

const (
	BusinessIDKey = "businessID"
	tokenTTL      = 24 * time.Hour
	// tokens this close to expiry are reissued in the response header
	refreshWindow = time.Hour
)

type Claims struct {
	BusinessID string `json:"business_id"`
	jwt.RegisteredClaims
}

func GenerateJWT(secret, businessID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = tokenTTL
	}
	now := time.Now()
	claims := &Claims{
		BusinessID: businessID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func JWTAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := common.GetAuthorizationToken(c.GetHeader("Authorization"))
		if err != nil {
			common.Error(c, err)
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid || claims.BusinessID == "" {
			common.Error(c, common.ErrTokenInvalid)
			c.Abort()
			return
		}

		if claims.ExpiresAt.Time.Before(time.Now().Add(refreshWindow)) {
			newToken, err := GenerateJWT(secret, claims.BusinessID, tokenTTL)
			if err == nil {
				c.Header("Authorization", "Bearer "+newToken)
			}
		}
		c.Set(BusinessIDKey, claims.BusinessID)
		c.Next()
	}
}

// BusinessID is the authenticated business of the request.
func BusinessID(c *gin.Context) string {
	return c.GetString(BusinessIDKey)
}
