package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// restDriver speaks the RouterOS v7 REST API under /rest.
// HTTP is stateless; dialing is an identity probe.
type restDriver struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

func newRESTDriver(baseURL, user, password string, useTLS bool) *restDriver {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if useTLS {
		// www-ssl ships with a self-signed certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &restDriver{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		user:     user,
		password: password,
		http:     &http.Client{Transport: transport},
	}
}

type restError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (d *restDriver) dial(ctx context.Context) error {
	return d.call(ctx, http.MethodGet, "/system/identity", nil, nil)
}

func (d *restDriver) close() error {
	d.http.CloseIdleConnections()
	return nil
}

// call sends one request. Non-2xx answers with a body become rejectedError, except 401 and 5xx
// which are treated as transport failures.
func (d *restDriver) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+"/rest"+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(d.user, d.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var re restError
		_ = json.Unmarshal(raw, &re)
		msg := strings.TrimSpace(re.Message + " " + re.Detail)
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode >= 500 {
			return fmt.Errorf("rest %s %s: %d %s", method, path, resp.StatusCode, msg)
		}
		return &rejectedError{msg: fmt.Sprintf("%d %s", resp.StatusCode, msg)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (d *restDriver) list(ctx context.Context, path string) ([]map[string]string, error) {
	var rows []map[string]any
	if err := d.call(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		out[i] = stringMap(row)
	}
	return out, nil
}

func (d *restDriver) activeSessions(ctx context.Context) ([]SessionSnapshot, error) {
	rows, err := d.list(ctx, "/ip/hotspot/active")
	if err != nil {
		return nil, err
	}
	out := make([]SessionSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, snapshotFromMap(row))
	}
	return out, nil
}

func (d *restDriver) addUser(ctx context.Context, spec CredentialSpec) (string, error) {
	body := map[string]string{
		"name":         spec.Name,
		"password":     spec.Secret,
		"profile":      spec.Profile,
		"limit-uptime": spec.LimitUptime,
		"shared-users": strconv.Itoa(spec.SharedUsers),
		"comment":      spec.Comment,
		"disabled":     yesNo(spec.Disabled),
	}
	var created map[string]any
	if err := d.call(ctx, http.MethodPut, "/ip/hotspot/user", body, &created); err != nil {
		return "", err
	}
	if ref := stringMap(created)[".id"]; ref != "" {
		return ref, nil
	}
	cred, err := d.findUser(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("created user %q not found on read-back", spec.Name)
	}
	return cred.ExternalRef, nil
}

func (d *restDriver) findUser(ctx context.Context, name string) (*Credential, error) {
	rows, err := d.list(ctx, "/ip/hotspot/user?name="+url.QueryEscape(name))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row["name"] == name {
			return credentialFromMap(row), nil
		}
	}
	return nil, nil
}

func (d *restDriver) setUserDisabled(ctx context.Context, id string, disabled bool) error {
	return d.call(ctx, http.MethodPatch, "/ip/hotspot/user/"+url.PathEscape(id),
		map[string]string{"disabled": yesNo(disabled)}, nil)
}

func (d *restDriver) removeUser(ctx context.Context, id string) error {
	return d.call(ctx, http.MethodDelete, "/ip/hotspot/user/"+url.PathEscape(id), nil, nil)
}

func (d *restDriver) removeActive(ctx context.Context, id string) error {
	return d.call(ctx, http.MethodDelete, "/ip/hotspot/active/"+url.PathEscape(id), nil, nil)
}

func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
