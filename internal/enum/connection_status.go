package enum

type ConnectionStatus string

const (
	ConnectionConnecting ConnectionStatus = "CONNECTING"
	ConnectionActive     ConnectionStatus = "ACTIVE"
	ConnectionRetrying   ConnectionStatus = "RETRYING"
	ConnectionFailed     ConnectionStatus = "FAILED"
	ConnectionStopped    ConnectionStatus = "STOPPED"
)

func (s ConnectionStatus) String() string {
	return string(s)
}

// Terminal reports whether the listener will not come back without an external restart.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionFailed || s == ConnectionStopped
}

func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionConnecting, ConnectionActive, ConnectionRetrying, ConnectionFailed, ConnectionStopped:
		return true
	}
	return false
}
