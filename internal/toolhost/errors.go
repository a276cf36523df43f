package toolhost

// unknownToolError signals a call to a tool name no provider registered.
type unknownToolError struct{ name string }

func (e unknownToolError) Error() string { return "unknown tool: " + e.name }

// ErrUnknownTool constructs an unknownToolError.
func ErrUnknownTool(name string) error { return unknownToolError{name: name} }

// IsUnknownTool reports whether err indicates an unregistered tool name.
func IsUnknownTool(err error) bool {
	_, ok := err.(unknownToolError)
	return ok
}

// providerDisconnectedError signals that a tool's provider was torn down
// between lookup and use.
type providerDisconnectedError struct{ provider string }

func (e providerDisconnectedError) Error() string {
	return "tool provider disconnected: " + e.provider
}

// ErrProviderDisconnected constructs a providerDisconnectedError.
func ErrProviderDisconnected(provider string) error {
	return providerDisconnectedError{provider: provider}
}

// IsProviderDisconnected reports whether err indicates a torn-down provider.
func IsProviderDisconnected(err error) bool {
	_, ok := err.(providerDisconnectedError)
	return ok
}

// toolCallFailedError wraps a provider-side invocation failure.
type toolCallFailedError struct{ msg string }

func (e toolCallFailedError) Error() string { return "tool call failed: " + e.msg }

// ErrToolCallFailed constructs a toolCallFailedError.
func ErrToolCallFailed(msg string) error { return toolCallFailedError{msg: msg} }

// IsToolCallFailed reports whether err wraps a provider invocation failure.
func IsToolCallFailed(err error) bool {
	_, ok := err.(toolCallFailedError)
	return ok
}
