package proxmox

// ClusterClient defines the capability set the tools need from the Proxmox
// control plane. It is implemented by both Client (API-based) and
// ShellClient (pvesh-based).
//
// Read operations are idempotent; StartMigration and MoveDisk are not.
type ClusterClient interface {
	// ListNodes returns the names of all cluster members.
	ListNodes() ([]string, error)

	// NodeStatus retrieves hardware capacity for a specific node.
	NodeStatus(node string) (*NodeStatus, error)

	// ListVMs returns the VMs currently assigned to the node.
	ListVMs(node string) ([]VMInfo, error)

	// VMStatus retrieves detailed status for a specific VM.
	VMStatus(node string, vmid int) (*VMStatus, error)

	// ListHAResources returns the HA-managed resource identifiers.
	ListHAResources() ([]HAResource, error)

	// StartMigration begins a live (online=true) or offline migration of a
	// VM to the target node. Non-blocking: returns the task handle once the
	// control plane has accepted the request.
	StartMigration(source string, vmid int, target string, online bool) (TaskID, error)

	// TaskStatus returns the current status of an asynchronous task; callers
	// poll it until it reports "stopped".
	TaskStatus(node string, task TaskID) (*TaskStatus, error)

	// ListStorages returns the storages configured on a node.
	ListStorages(node string) ([]StorageInfo, error)

	// ListStorageContent returns the volumes held by a storage.
	ListStorageContent(node, storage string) ([]StorageContentItem, error)

	// MoveVolume moves a free-standing volume (e.g. an ISO) to another storage.
	MoveVolume(node, volid, targetStorage string) error

	// MoveDisk moves one attached VM disk to another storage. Asynchronous
	// like StartMigration.
	MoveDisk(node string, vmid int, disk, targetStorage string) (TaskID, error)
}

// Ensure both client types implement the interface
var _ ClusterClient = (*Client)(nil)
var _ ClusterClient = (*ShellClient)(nil)
