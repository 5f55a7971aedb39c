package proxmox

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ShellClient represents a Proxmox client using local shell commands (pvesh)
// This client runs directly on a Proxmox host and requires root privileges
type ShellClient struct {
	// No authentication needed - uses pvesh which accesses the local API
}

// NewShellClient creates a new Proxmox shell client
// This should only be used when running on a Proxmox host as root
func NewShellClient() *ShellClient {
	return &ShellClient{}
}

// IsProxmoxHost checks if pvesh is available (i.e., running on a Proxmox host)
func IsProxmoxHost() bool {
	cmd := exec.Command("which", "pvesh")
	err := cmd.Run()
	return err == nil
}

// pvesh executes a pvesh command and returns the JSON output
func (c *ShellClient) pvesh(op string, args ...string) ([]byte, error) {
	fullArgs := append(args, "--output-format", "json")
	cmd := exec.Command("pvesh", fullArgs...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, c.classify(op, strings.Join(args, " "), err, output)
	}

	return output, nil
}

// classify maps pvesh failures onto the APIError taxonomy by inspecting the
// combined output; pvesh prints the HTTP-style reason before exiting non-zero.
func (c *ShellClient) classify(op, path string, err error, output []byte) error {
	text := strings.ToLower(string(output))
	kind := KindRemoteError
	switch {
	case strings.Contains(text, "no such"), strings.Contains(text, "does not exist"):
		kind = KindNotFound
	case strings.Contains(text, "permission"), strings.Contains(text, "authentication"):
		kind = KindPermissionDenied
	case strings.Contains(text, "400 "), strings.Contains(text, "invalid"):
		kind = KindInvalidArgument
	case strings.Contains(text, "connection"), strings.Contains(text, "timeout"):
		kind = KindUnavailable
	}
	return &APIError{Kind: kind, Op: op, Path: path,
		Err: fmt.Errorf("pvesh failed: %w: %s", err, strings.TrimSpace(string(output)))}
}

// ListNodes returns the names of all cluster members
func (c *ShellClient) ListNodes() ([]string, error) {
	output, err := c.pvesh("ListNodes", "get", "/nodes")
	if err != nil {
		return nil, err
	}

	var nodes []struct {
		Node string `json:"node"`
	}
	if err := json.Unmarshal(output, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node list: %w", err)
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Node)
	}
	return names, nil
}

// NodeStatus retrieves detailed status for a specific node
func (c *ShellClient) NodeStatus(node string) (*NodeStatus, error) {
	output, err := c.pvesh("NodeStatus", "get", fmt.Sprintf("/nodes/%s/status", node))
	if err != nil {
		return nil, err
	}

	status := &NodeStatus{}
	if err := json.Unmarshal(output, status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node status: %w", err)
	}
	return status, nil
}

// ListVMs returns the VMs currently assigned to the node, excluding templates
func (c *ShellClient) ListVMs(node string) ([]VMInfo, error) {
	output, err := c.pvesh("ListVMs", "get", fmt.Sprintf("/nodes/%s/qemu", node))
	if err != nil {
		return nil, err
	}

	var vms []VMInfo
	if err := json.Unmarshal(output, &vms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vm list: %w", err)
	}

	out := vms[:0]
	for _, vm := range vms {
		if vm.Template == 1 {
			continue
		}
		out = append(out, vm)
	}
	return out, nil
}

// VMStatus retrieves detailed status for a specific VM
func (c *ShellClient) VMStatus(node string, vmid int) (*VMStatus, error) {
	output, err := c.pvesh("VMStatus", "get",
		fmt.Sprintf("/nodes/%s/qemu/%d/status/current", node, vmid))
	if err != nil {
		return nil, err
	}

	status := &VMStatus{}
	if err := json.Unmarshal(output, status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vm status: %w", err)
	}
	return status, nil
}

// ListHAResources returns the HA-managed resource identifiers
func (c *ShellClient) ListHAResources() ([]HAResource, error) {
	output, err := c.pvesh("ListHAResources", "get", "/cluster/ha/resources")
	if err != nil {
		return nil, err
	}

	var resources []HAResource
	if err := json.Unmarshal(output, &resources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ha resources: %w", err)
	}
	return resources, nil
}

// StartMigration begins migrating a VM to the target node
func (c *ShellClient) StartMigration(source string, vmid int, target string, online bool) (TaskID, error) {
	args := []string{"create", fmt.Sprintf("/nodes/%s/qemu/%d/migrate", source, vmid),
		"--target", target}
	if online {
		args = append(args, "--online", "1")
	}

	output, err := c.pvesh("StartMigration", args...)
	if err != nil {
		return "", err
	}

	// pvesh prints the UPID as a bare JSON string
	var upid string
	if err := json.Unmarshal(output, &upid); err != nil {
		upid = strings.TrimSpace(string(output))
	}
	return TaskID(upid), nil
}

// TaskStatus polls the status of an asynchronous task
func (c *ShellClient) TaskStatus(node string, task TaskID) (*TaskStatus, error) {
	output, err := c.pvesh("TaskStatus", "get",
		fmt.Sprintf("/nodes/%s/tasks/%s/status", node, task))
	if err != nil {
		return nil, err
	}

	status := &TaskStatus{}
	if err := json.Unmarshal(output, status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task status: %w", err)
	}
	return status, nil
}

// ListStorages returns the storages configured on a node
func (c *ShellClient) ListStorages(node string) ([]StorageInfo, error) {
	output, err := c.pvesh("ListStorages", "get", fmt.Sprintf("/nodes/%s/storage", node))
	if err != nil {
		return nil, err
	}

	var storages []StorageInfo
	if err := json.Unmarshal(output, &storages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal storage list: %w", err)
	}
	return storages, nil
}

// ListStorageContent returns the volumes held by a storage
func (c *ShellClient) ListStorageContent(node, storage string) ([]StorageContentItem, error) {
	output, err := c.pvesh("ListStorageContent", "get",
		fmt.Sprintf("/nodes/%s/storage/%s/content", node, storage))
	if err != nil {
		return nil, err
	}

	var content []StorageContentItem
	if err := json.Unmarshal(output, &content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal storage content: %w", err)
	}
	return content, nil
}

// MoveVolume moves a free-standing volume to another storage
func (c *ShellClient) MoveVolume(node, volid, targetStorage string) error {
	storage, _, found := strings.Cut(volid, ":")
	if !found {
		return &APIError{Kind: KindInvalidArgument, Op: "MoveVolume", Path: volid,
			Err: fmt.Errorf("volid %q has no storage prefix", volid)}
	}

	_, err := c.pvesh("MoveVolume", "create",
		fmt.Sprintf("/nodes/%s/storage/%s/content/%s", node, storage, volid),
		"--target-storage", targetStorage)
	return err
}

// MoveDisk moves one attached VM disk to another storage
func (c *ShellClient) MoveDisk(node string, vmid int, disk, targetStorage string) (TaskID, error) {
	output, err := c.pvesh("MoveDisk", "create",
		fmt.Sprintf("/nodes/%s/qemu/%s/move_disk", node, strconv.Itoa(vmid)),
		"--disk", disk, "--storage", targetStorage)
	if err != nil {
		return "", err
	}

	var upid string
	if err := json.Unmarshal(output, &upid); err != nil {
		upid = strings.TrimSpace(string(output))
	}
	return TaskID(upid), nil
}
