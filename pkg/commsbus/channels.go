package commsbus

import (
	"fmt"
	"strings"
)

// BuildChannel builds a namespaced IPC channel name. Dots in the name are
// flattened so the result stays a single channel token.
func BuildChannel(namespace, name string) string {
	safe := strings.ReplaceAll(name, ".", "_")
	return fmt.Sprintf("ipc.%s.%s", namespace, safe)
}
