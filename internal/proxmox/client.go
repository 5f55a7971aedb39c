package proxmox

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client represents a Proxmox API client
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string
	Username   string
	Password   string
	ticket     string
	csrfToken  string
}

// NewClient creates a new Proxmox API client using an API token
// (format: user@realm!tokenid=secret)
func NewClient(baseURL, authToken string) *Client {
	// Skip TLS verification for localhost/self-signed certs
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		AuthToken: authToken,
	}
}

// NewClientWithCredentials creates a new client with username/password
func NewClientWithCredentials(baseURL, username, password string) *Client {
	client := NewClient(baseURL, "")
	client.Username = username
	client.Password = password
	return client
}

// Authenticate obtains a ticket and CSRF token using username/password
func (c *Client) Authenticate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password required for authentication")
	}

	data := url.Values{}
	data.Set("username", c.Username)
	data.Set("password", c.Password)

	resp, err := c.HTTPClient.PostForm(c.BaseURL+"/api2/json/access/ticket", data)
	if err != nil {
		return &APIError{Kind: KindUnavailable, Op: "Authenticate", Path: "/access/ticket", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Kind: kindFromStatus(resp.StatusCode),
			Op:   "Authenticate",
			Path: "/access/ticket",
			Err:  fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var result struct {
		Data struct {
			Ticket    string `json:"ticket"`
			CSRFToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	c.ticket = result.Data.Ticket
	c.csrfToken = result.Data.CSRFToken
	return nil
}

// do performs an authenticated request against an api2/json path and
// unmarshals the "data" envelope into out (which may be nil).
func (c *Client) do(op, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequest(method, c.BaseURL+"/api2/json"+path, body)
	if err != nil {
		return &APIError{Kind: KindInvalidArgument, Op: op, Path: path, Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	// API token takes precedence over ticket auth
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "PVEAPIToken="+c.AuthToken)
	} else if c.ticket != "" {
		req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: c.ticket})
		if method != http.MethodGet {
			req.Header.Set("CSRFPreventionToken", c.csrfToken)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &APIError{Kind: KindUnavailable, Op: op, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Kind: kindFromStatus(resp.StatusCode),
			Op:   op,
			Path: path,
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: KindRemoteError, Op: op, Path: path, Err: err}
	}

	envelope := APIResponse{Data: out}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &APIError{Kind: KindRemoteError, Op: op, Path: path,
			Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return nil
}

func (c *Client) get(op, path string, out interface{}) error {
	return c.do(op, http.MethodGet, path, nil, out)
}

func (c *Client) post(op, path string, form url.Values, out interface{}) error {
	return c.do(op, http.MethodPost, path, form, out)
}

// ListNodes returns the names of all cluster members
func (c *Client) ListNodes() ([]string, error) {
	var nodes []struct {
		Node string `json:"node"`
	}
	if err := c.get("ListNodes", "/nodes", &nodes); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Node)
	}
	return names, nil
}

// NodeStatus retrieves detailed status for a specific node
func (c *Client) NodeStatus(node string) (*NodeStatus, error) {
	status := &NodeStatus{}
	path := fmt.Sprintf("/nodes/%s/status", node)
	if err := c.get("NodeStatus", path, status); err != nil {
		return nil, err
	}
	return status, nil
}

// ListVMs returns the VMs currently assigned to the node. Templates are
// filtered out: they are never migration candidates.
func (c *Client) ListVMs(node string) ([]VMInfo, error) {
	var vms []VMInfo
	path := fmt.Sprintf("/nodes/%s/qemu", node)
	if err := c.get("ListVMs", path, &vms); err != nil {
		return nil, err
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
func (c *Client) VMStatus(node string, vmid int) (*VMStatus, error) {
	status := &VMStatus{}
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/current", node, vmid)
	if err := c.get("VMStatus", path, status); err != nil {
		return nil, err
	}
	return status, nil
}

// ListHAResources returns the HA-managed resource identifiers
func (c *Client) ListHAResources() ([]HAResource, error) {
	var resources []HAResource
	if err := c.get("ListHAResources", "/cluster/ha/resources", &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// StartMigration begins migrating a VM to the target node
func (c *Client) StartMigration(source string, vmid int, target string, online bool) (TaskID, error) {
	form := url.Values{}
	form.Set("target", target)
	if online {
		form.Set("online", "1")
	}

	var upid string
	path := fmt.Sprintf("/nodes/%s/qemu/%d/migrate", source, vmid)
	if err := c.post("StartMigration", path, form, &upid); err != nil {
		return "", err
	}
	return TaskID(upid), nil
}

// TaskStatus polls the status of an asynchronous task
func (c *Client) TaskStatus(node string, task TaskID) (*TaskStatus, error) {
	status := &TaskStatus{}
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", node, url.PathEscape(string(task)))
	if err := c.get("TaskStatus", path, status); err != nil {
		return nil, err
	}
	return status, nil
}

// ListStorages returns the storages configured on a node
func (c *Client) ListStorages(node string) ([]StorageInfo, error) {
	var storages []StorageInfo
	path := fmt.Sprintf("/nodes/%s/storage", node)
	if err := c.get("ListStorages", path, &storages); err != nil {
		return nil, err
	}
	return storages, nil
}

// ListStorageContent returns the volumes held by a storage
func (c *Client) ListStorageContent(node, storage string) ([]StorageContentItem, error) {
	var content []StorageContentItem
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", node, storage)
	if err := c.get("ListStorageContent", path, &content); err != nil {
		return nil, err
	}
	return content, nil
}

// MoveVolume moves a free-standing volume to another storage
func (c *Client) MoveVolume(node, volid, targetStorage string) error {
	storage, _, found := strings.Cut(volid, ":")
	if !found {
		return &APIError{Kind: KindInvalidArgument, Op: "MoveVolume", Path: volid,
			Err: fmt.Errorf("volid %q has no storage prefix", volid)}
	}

	form := url.Values{}
	form.Set("target-storage", targetStorage)
	path := fmt.Sprintf("/nodes/%s/storage/%s/content/%s", node, storage, url.PathEscape(volid))
	return c.post("MoveVolume", path, form, nil)
}

// MoveDisk moves one attached VM disk to another storage
func (c *Client) MoveDisk(node string, vmid int, disk, targetStorage string) (TaskID, error) {
	form := url.Values{}
	form.Set("disk", disk)
	form.Set("storage", targetStorage)

	var upid string
	path := fmt.Sprintf("/nodes/%s/qemu/%d/move_disk", node, vmid)
	if err := c.post("MoveDisk", path, form, &upid); err != nil {
		return "", err
	}
	return TaskID(upid), nil
}
