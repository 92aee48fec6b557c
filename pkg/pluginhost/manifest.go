package pluginhost

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PluginManifest is the metadata a plugin ships alongside its compiled WASM
// module: its own version and the range of host versions it claims
// compatibility with.
type PluginManifest struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	HostVersionRange string `json:"host_version_range"`
}

// CheckCompatibility parses the manifest's semver version and host version
// constraint and reports whether hostVersion satisfies it. A plugin built
// against an incompatible host version is rejected before its WASM module
// is ever compiled.
func (m PluginManifest) CheckCompatibility(hostVersion string) error {
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("pluginhost: manifest %s has invalid version %q: %w", m.Name, m.Version, err)
	}

	constraint, err := semver.NewConstraint(m.HostVersionRange)
	if err != nil {
		return fmt.Errorf("pluginhost: manifest %s has invalid host_version_range %q: %w", m.Name, m.HostVersionRange, err)
	}

	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("pluginhost: invalid host version %q: %w", hostVersion, err)
	}

	if !constraint.Check(host) {
		return fmt.Errorf("pluginhost: plugin %s requires host version %s, running %s", m.Name, m.HostVersionRange, hostVersion)
	}
	return nil
}

// httpRequestSchema validates the {method,url,headers,body} JSON payload
// the http_request host call accepts, before it is unmarshalled into a
// typed request — guests get a structured validation error instead of a
// host-side panic on a malformed payload.
var httpRequestSchema = compileSchema(`{
	"type": "object",
	"required": ["method", "url"],
	"properties": {
		"method": {"type": "string", "enum": ["GET", "HEAD", "POST", "PUT", "PATCH", "DELETE"]},
		"url": {"type": "string", "minLength": 1},
		"headers": {"type": "object"},
		"body": {"type": "string"}
	}
}`)

// registerConnectorSchema validates the {name,platform,profile} payload the
// register_connector host call accepts.
var registerConnectorSchema = compileSchema(`{
	"type": "object",
	"required": ["name", "platform"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"platform": {"type": "string", "minLength": 1},
		"profile": {"type": "string"}
	}
}`)

func compileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("pluginhost: invalid embedded schema: %v", err))
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("pluginhost: invalid embedded schema: %v", err))
	}
	return schema
}

// validatePayload checks raw against schema, decoding it generically
// first so jsonschema can walk the same shape json.Unmarshal would produce.
func validatePayload(schema *jsonschema.Schema, raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("pluginhost: malformed JSON payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("pluginhost: payload failed schema validation: %w", err)
	}
	return nil
}

// ValidateHTTPRequestPayload validates a raw http_request call payload.
func ValidateHTTPRequestPayload(raw []byte) error {
	return validatePayload(httpRequestSchema, raw)
}

// ValidateRegisterConnectorPayload validates a raw register_connector call
// payload.
func ValidateRegisterConnectorPayload(raw []byte) error {
	return validatePayload(registerConnectorSchema, raw)
}
