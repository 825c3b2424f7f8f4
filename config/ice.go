package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "ICE_SERVERS_JSON"

	envStunURLs       = "STUN_URLS"
	envTurnURLs       = "TURN_URLS"
	envTurnUsername   = "TURN_USERNAME"
	envTurnCredential = "TURN_CREDENTIAL"
)

// ICEConfig lists the STUN/TURN servers handed to clients. ServersJSON wins
// over the convenience URL lists, which win over Servers from the file.
type ICEConfig struct {
	ServersJSON    string            `yaml:"serversJson"`
	STUNURLs       []string          `yaml:"stunUrls"`
	TURNURLs       []string          `yaml:"turnUrls"`
	TURNUsername   string            `yaml:"turnUsername"`
	TURNCredential string            `yaml:"turnCredential"`
	Servers        []ICEServerConfig `yaml:"servers"`
}

type ICEServerConfig struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username" json:"username,omitempty"`
	Credential string   `yaml:"credential" json:"credential,omitempty"`
}

// ICEServers resolves the configured ICE servers.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ICE.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	if len(c.ICE.STUNURLs) > 0 || len(c.ICE.TURNURLs) > 0 {
		return iceServersFromLists(c.ICE.STUNURLs, c.ICE.TURNURLs, c.ICE.TURNUsername, c.ICE.TURNCredential)
	}
	return iceServersFromConfig(c.ICE.Servers)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a browser-style iceServers array. "urls" may be a
// string or a list.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}
	cfgs := make([]ICEServerConfig, 0, len(servers))
	for _, s := range servers {
		cfgs = append(cfgs, ICEServerConfig{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return iceServersFromConfig(cfgs)
}

// iceServersFromConfig trims and checks every entry. Each URL must parse as
// a stun, stuns, turn or turns URI; a server with any turn URL needs both a
// username and a credential.
func iceServersFromConfig(servers []ICEServerConfig) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		username := strings.TrimSpace(server.Username)
		credential := strings.TrimSpace(server.Credential)

		var urls []string
		needsAuth := false
		for _, raw := range server.URLs {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			uri, err := stun.ParseURI(raw)
			if err != nil {
				return nil, fmt.Errorf("iceServers[%d]: %q: %w", i, raw, err)
			}
			if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
				needsAuth = true
			}
			urls = append(urls, raw)
		}

		if len(urls) == 0 {
			return nil, fmt.Errorf("iceServers[%d]: no urls", i)
		}
		if needsAuth && (username == "" || credential == "") {
			return nil, fmt.Errorf("iceServers[%d]: turn servers need a username and credential", i)
		}

		entry := webrtc.ICEServer{URLs: urls, Username: username}
		if credential != "" {
			entry.Credential = server.Credential
		}
		out = append(out, entry)
	}
	return out, nil
}

// iceServersFromLists builds one STUN entry and one TURN entry from the
// comma-separated env lists.
func iceServersFromLists(stunList, turnList []string, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var cfgs []ICEServerConfig
	if len(stunList) > 0 {
		cfgs = append(cfgs, ICEServerConfig{URLs: stunList})
	}
	if len(turnList) > 0 {
		cfgs = append(cfgs, ICEServerConfig{URLs: turnList, Username: turnUsername, Credential: turnCredential})
	}

	servers, err := iceServersFromConfig(cfgs)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", envStunURLs, envTurnURLs, err)
	}
	return servers, nil
}
