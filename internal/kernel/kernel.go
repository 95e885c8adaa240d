package kernel

// Kernel is the synchronous IPC contract.
//
// SendSyncRequest sends the request composed in r over session h and blocks
// until the reply has been written back into r or the send fails.
type Kernel interface {
	SendSyncRequest(h Handle, r *Region) error
	CloseHandle(h Handle) error
}

// PortConnector opens sessions to named ports such as "sm:".
type PortConnector interface {
	ConnectToNamedPort(name string) (Handle, error)
}

// System is a kernel that can also reach named ports.
type System interface {
	Kernel
	PortConnector
}
