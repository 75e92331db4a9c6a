package logging

// redactedPlaceholder replaces any secret value before it reaches an encoder.
const redactedPlaceholder = "[REDACTED]"

// secretKeys are field names whose values must never be logged. The set covers
// OAuth2 and OAuth1 credential material.
var secretKeys = map[string]struct{}{
	"accessToken":    {},
	"refreshToken":   {},
	"idToken":        {},
	"clientSecret":   {},
	"consumerSecret": {},
	"tokenSecret":    {},
}

// tokenSetKey is the one field whose nested values are also redacted, one level deep.
const tokenSetKey = "tokenSet"

func isSecretKey(key string) bool {
	_, ok := secretKeys[key]
	return ok
}

// redactField returns a copy of the field with secret values replaced.
// A field named tokenSet has its map values scrubbed one nesting level deep;
// non-map tokenSet values are redacted wholesale since they cannot be inspected.
func redactField(f Field) Field {
	if isSecretKey(f.Key) {
		return Field{Key: f.Key, Value: redactedPlaceholder}
	}

	if f.Key != tokenSetKey {
		return f
	}

	switch nested := f.Value.(type) {
	case map[string]interface{}:
		clean := make(map[string]interface{}, len(nested))
		for k, v := range nested {
			if isSecretKey(k) {
				clean[k] = redactedPlaceholder
			} else {
				clean[k] = v
			}
		}
		return Field{Key: f.Key, Value: clean}
	case map[string]string:
		clean := make(map[string]string, len(nested))
		for k, v := range nested {
			if isSecretKey(k) {
				clean[k] = redactedPlaceholder
			} else {
				clean[k] = v
			}
		}
		return Field{Key: f.Key, Value: clean}
	default:
		return Field{Key: f.Key, Value: redactedPlaceholder}
	}
}

// redactFields scrubs secret material from a field list before encoding.
func redactFields(fields []Field) []Field {
	if len(fields) == 0 {
		return fields
	}

	clean := make([]Field, len(fields))
	for i, f := range fields {
		clean[i] = redactField(f)
	}
	return clean
}
