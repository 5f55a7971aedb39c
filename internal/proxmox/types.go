package proxmox

// NodeStatus represents detailed node status from /nodes/{node}/status
type NodeStatus struct {
	Uptime  int64   `json:"uptime"`
	CPUInfo CPUInfo `json:"cpuinfo"`
	Memory  Memory  `json:"memory"`
}

// CPUInfo contains CPU information
type CPUInfo struct {
	Cores   int    `json:"cores"`
	CPUs    int    `json:"cpus"`
	Model   string `json:"model"`
	Sockets int    `json:"sockets"`
}

// Memory contains memory information
type Memory struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}

// VMInfo is one entry of /nodes/{node}/qemu
type VMInfo struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	MaxMem   int64  `json:"maxmem"`
	CPUs     int    `json:"cpus,omitempty"`
	MaxCPU   int    `json:"maxcpu,omitempty"`
	Template int    `json:"template,omitempty"`
}

// VCPUs resolves the vCPU claim for the VM: cpus if present, else maxcpu,
// else 1.
func (v VMInfo) VCPUs() int {
	if v.CPUs > 0 {
		return v.CPUs
	}
	if v.MaxCPU > 0 {
		return v.MaxCPU
	}
	return 1
}

// VMStatus represents detailed VM status from /nodes/{node}/qemu/{vmid}/status/current
type VMStatus struct {
	VMID   int    `json:"vmid"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// HAResource is one entry of /cluster/ha/resources; SID has the form
// "vm:<id>" for HA-managed virtual machines.
type HAResource struct {
	SID   string `json:"sid"`
	State string `json:"state,omitempty"`
}

// TaskID is the opaque UPID handle returned when starting an asynchronous
// cluster task.
type TaskID string

// TaskStatus represents /nodes/{node}/tasks/{upid}/status
type TaskStatus struct {
	Status     string `json:"status"`                // "running" or "stopped"
	ExitStatus string `json:"exitstatus,omitempty"`  // set once stopped
}

// TaskStatusOK is the exit status of a successfully completed task.
const TaskStatusOK = "OK"

// Stopped reports whether the task reached a terminal state.
func (t TaskStatus) Stopped() bool { return t.Status == "stopped" }

// Succeeded reports whether the task stopped with an OK exit status.
func (t TaskStatus) Succeeded() bool { return t.Stopped() && t.ExitStatus == TaskStatusOK }

// StorageInfo represents storage information for a node
type StorageInfo struct {
	Storage string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Total   int64  `json:"total"`
	Used    int64  `json:"used"`
	Active  int    `json:"active"`
	Enabled int    `json:"enabled"`
	Shared  int    `json:"shared"`
}

// StorageContentItem represents a volume in storage content
type StorageContentItem struct {
	Content string `json:"content"` // "images", "iso", etc.
	Format  string `json:"format"`  // "qcow2", "raw", "iso", etc.
	Size    int64  `json:"size"`
	VMID    int    `json:"vmid,omitempty"`
	VolID   string `json:"volid"`
}

// APIResponse is the generic wrapper every API endpoint uses
type APIResponse struct {
	Data interface{} `json:"data"`
}
