package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/log"
)

// SafePutOptions configures the edge-zone fallback behavior of SafePut.
type SafePutOptions struct {
	// EdgeZoneFallback feature-flags the liveness-over-safety trade §9
	// DESIGN NOTES calls for: when true (default), a 409
	// InvalidExtendedLocation response is swallowed and the request body is
	// returned as if the write had succeeded.
	EdgeZoneFallback bool
}

// DefaultSafePutOptions matches the daemon's documented default behavior.
func DefaultSafePutOptions() SafePutOptions {
	return SafePutOptions{EdgeZoneFallback: true}
}

// SafePut implements §4.3: it detects edge-zone context on body, attaches it
// if missing, submits the PUT, and on the specific 409 InvalidExtendedLocation
// conflict returns body unchanged instead of erroring — logging a structured,
// high-severity warning so the fallback stays observable.
func SafePut(ctx context.Context, c Client, resourceID string, body map[string]interface{}, description string, textLog *log.Logger, structured *zap.Logger, opts SafePutOptions) (map[string]interface{}, error) {
	extendedZoneContext := edgeZoneContext(body)
	if extendedZoneContext != nil {
		if _, ok := body["extendedLocation"]; !ok {
			body["extendedLocation"] = extendedZoneContext
		}
	}

	raw, err := c.Put(ctx, resourceID, body)
	if err == nil {
		var decoded map[string]interface{}
		if decErr := json.Unmarshal(raw, &decoded); decErr != nil {
			return nil, decErr
		}
		return decoded, nil
	}

	var reqErr *RequestError
	if opts.EdgeZoneFallback && errors.As(err, &reqErr) && reqErr.Code == 409 &&
		strings.Contains(reqErr.Message, "InvalidExtendedLocation") {
		if textLog != nil {
			textLog.Warnf("edge-zone PUT refused for %s (%s): %s; continuing with desired state", resourceID, description, reqErr.Message)
		}
		if structured != nil {
			structured.Warn("edge-zone PUT fallback engaged",
				zap.String("resource_id", resourceID),
				zap.String("description", description),
				zap.Int("status_code", reqErr.Code),
				zap.String("upstream_message", reqErr.Message),
			)
		}
		return body, nil
	}

	return nil, err
}

// edgeZoneContext derives the edge-zone context to attach to a PUT body, per
// §4.3 step 1: prefer an existing top-level extendedLocation, else synthesize
// one from properties.vnetExtendedLocation.
func edgeZoneContext(body map[string]interface{}) map[string]interface{} {
	if el, ok := body["extendedLocation"].(map[string]interface{}); ok && el != nil {
		return el
	}

	props, ok := body["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	vnetLoc, ok := props["vnetExtendedLocation"].(map[string]interface{})
	if !ok || vnetLoc == nil {
		return nil
	}

	return map[string]interface{}{
		"name": vnetLoc["name"],
		"type": vnetLoc["type"],
	}
}

// IsEdgeZoneResource reports whether obj carries an edge-zone marker, either
// directly (extendedLocation) or via properties.vnetExtendedLocation.
func IsEdgeZoneResource(obj map[string]interface{}) bool {
	if el, ok := obj["extendedLocation"].(map[string]interface{}); ok {
		if t, _ := el["type"].(string); t == "EdgeZone" {
			return true
		}
	}
	props, ok := obj["properties"].(map[string]interface{})
	if !ok {
		return false
	}
	if vl, ok := props["vnetExtendedLocation"].(map[string]interface{}); ok {
		if t, _ := vl["type"].(string); t == "EdgeZone" {
			return true
		}
	}
	return false
}
