package policy

// PortOpener installs the host-level allow for an open port. Results are
// the tool's output text, reported to the operator as-is.
type PortOpener interface {
	AllowPort(port int, proto string) string
	AllowContainer(container string, port int, proto string) string
}
