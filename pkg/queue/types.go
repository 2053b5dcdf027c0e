package queue

import "encoding/json"

// TypeDeliverCallback is the asynq task that POSTs a signed Envelope to a callback url.
const TypeDeliverCallback = "callback:deliver"

// QueueCallbacks is the asynq queue callback deliveries run on.
const QueueCallbacks = "callbacks"

// Envelope is the wire format of every inbound callback. Body is base64 of the json callback.
type Envelope struct {
	ScheduleID string `json:"scheduleId"`
	Body       string `json:"body"`
}

type DeliverPayload struct {
	URL      string   `json:"url"`
	Envelope Envelope `json:"envelope"`
}

func (p DeliverPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalDeliverPayload(data []byte) (DeliverPayload, error) {
	var p DeliverPayload
	err := json.Unmarshal(data, &p)
	return p, err
}
