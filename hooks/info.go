package hooks

import (
	"encoding/json"

	"github.com/ggoodman/ocpp-server-go/ocpp"
)

// Info is the context shared by the observers of one Execute call. Fields not
// relevant to a hook point are left zero.
type Info struct {
	CPID            string
	ProtocolVersion string

	// Raw is the inbound or outbound text, when the point deals with one.
	Raw []byte
	// Frame is the decoded frame, when one exists.
	Frame *ocpp.Frame

	MessageID string
	Action    string
	Payload   json.RawMessage

	// Credentials offered by the charge point; set for ValidateConnection only.
	Username string
	Password string

	values map[string]any
}

// Set stores an observer-defined value for later observers of the same call.
func (i *Info) Set(key string, v any) {
	if i.values == nil {
		i.values = make(map[string]any)
	}
	i.values[key] = v
}

// Get returns a value previously stored with Set.
func (i *Info) Get(key string) (any, bool) {
	v, ok := i.values[key]
	return v, ok
}
