package provider

import (
	"fmt"
	"strings"
)

// Endpoints holds the REST and event-socket base URLs of one provider environment.
type Endpoints struct {
	REST   string
	Socket string
}

var environments = map[string]Endpoints{
	"local": {
		REST:   "https://api-local.sogni.ai",
		Socket: "wss://socket-local.sogni.ai",
	},
	"staging": {
		REST:   "https://api-staging.sogni.ai",
		Socket: "wss://socket-staging.sogni.ai",
	},
	"production": {
		REST:   "https://api.sogni.ai",
		Socket: "wss://socket.sogni.ai",
	},
}

// ResolveEndpoints returns the endpoints for env, with non-empty overrides
// taking precedence over the built-in table.
func ResolveEndpoints(env, restOverride, socketOverride string) (Endpoints, error) {
	base, ok := environments[strings.ToLower(strings.TrimSpace(env))]
	if !ok {
		return Endpoints{}, fmt.Errorf("provider: unknown environment %q", env)
	}
	if v := strings.TrimSpace(restOverride); v != "" {
		base.REST = v
	}
	if v := strings.TrimSpace(socketOverride); v != "" {
		base.Socket = v
	}
	base.REST = strings.TrimRight(base.REST, "/")
	return base, nil
}
