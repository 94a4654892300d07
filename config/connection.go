package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ConnectionString is the parsed form of an opaque startup credential.
//
// Two shapes are accepted:
//
//	nats://host:4222
//	HostName=hub.local;DeviceId=dev1;ModuleId=filter;SharedAccessKey=abc
//
// In the key/value form GatewayHostName, when present, wins over HostName
// and SharedAccessKey becomes the NATS token.
type ConnectionString struct {
	URL      string
	Token    string
	DeviceID string
	ModuleID string
}

// ParseConnectionString parses a connection descriptor
func ParseConnectionString(s string) (ConnectionString, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ConnectionString{}, fmt.Errorf("empty connection string")
	}

	if !strings.Contains(s, "=") {
		return parseURLConnection(s)
	}

	fields := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			return ConnectionString{}, fmt.Errorf("malformed segment %q", redactSegment(part))
		}
		fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	host := fields["gatewayhostname"]
	if host == "" {
		host = fields["hostname"]
	}
	if host == "" {
		return ConnectionString{}, fmt.Errorf("HostName is required")
	}

	cs, err := parseURLConnection(host)
	if err != nil {
		return ConnectionString{}, err
	}
	cs.Token = fields["sharedaccesskey"]
	cs.DeviceID = fields["deviceid"]
	cs.ModuleID = fields["moduleid"]
	return cs, nil
}

func parseURLConnection(s string) (ConnectionString, error) {
	if !strings.Contains(s, "://") {
		s = "nats://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ConnectionString{}, fmt.Errorf("invalid server address: %w", err)
	}
	if u.Hostname() == "" {
		return ConnectionString{}, fmt.Errorf("server address has no host")
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return ConnectionString{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Port() == "" && (u.Scheme == "nats" || u.Scheme == "tls") {
		u.Host = net.JoinHostPort(u.Hostname(), "4222")
	}

	cs := ConnectionString{URL: u.Scheme + "://" + u.Host}
	if u.User != nil {
		cs.Token = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cs.Token = ""
			cs.URL = u.Scheme + "://" + u.User.Username() + ":" + pw + "@" + u.Host
		}
	}
	return cs, nil
}

// MaskConnectionString hides credential values for logging
func MaskConnectionString(s string) string {
	if !strings.Contains(s, "=") {
		if u, err := url.Parse(s); err == nil && u.User != nil {
			u.User = url.User("redacted")
			return u.String()
		}
		return s
	}

	parts := strings.Split(s, ";")
	for i, part := range parts {
		key, _, ok := strings.Cut(part, "=")
		if ok && strings.Contains(strings.ToLower(key), "key") {
			parts[i] = key + "=****"
		}
	}
	return strings.Join(parts, ";")
}

func redactSegment(part string) string {
	if len(part) > 8 {
		return part[:4] + "..."
	}
	return part
}
