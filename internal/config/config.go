// Package config provides configuration loading and validation for the
// rotation engine. Config files are JSON or YAML documents.
package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/rotodns/rotodns/internal/schedule"
)

// Trigger periods.
const (
	PeriodDaily   = "d"
	PeriodWeekly  = "w"
	PeriodMonthly = "m"
)

// Trigger volume dimensions.
const (
	VolumeRX    = "rx"
	VolumeTX    = "tx"
	VolumeTotal = "total"
)

// SelfMonitorAgent is the reserved agent name that resolves to the local
// self-monitoring source instead of a remote HTTP agent.
const SelfMonitorAgent = "self"

// Config is the root configuration document.
type Config struct {
	Accounts    []Account    `json:"accounts" yaml:"accounts"`
	Agents      []Agent      `json:"agents,omitempty" yaml:"agents,omitempty"`
	SelfMonitor *SelfMonitor `json:"self_monitor,omitempty" yaml:"self_monitor,omitempty"`
	Triggers    []Trigger    `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Settings    Settings     `json:"settings" yaml:"settings"`
}

// Account is a provider account with its API credential and zones.
type Account struct {
	Name     string `json:"name" yaml:"name"`
	APIToken string `json:"api_token" yaml:"api_token"`
	Zones    []Zone `json:"zones" yaml:"zones"`
}

// Zone is a DNS zone with its rotation units.
type Zone struct {
	Domain         string          `json:"domain" yaml:"domain"`
	ZoneID         string          `json:"zone_id" yaml:"zone_id"`
	Records        []Record        `json:"records,omitempty" yaml:"records,omitempty"`
	RotationGroups []RotationGroup `json:"rotation_groups,omitempty" yaml:"rotation_groups,omitempty"`
}

// Record is a single-record rotation unit: one DNS record cycling through a
// configured candidate IP list.
type Record struct {
	Name     string             `json:"name" yaml:"name"`
	Type     string             `json:"type" yaml:"type"` // A or AAAA
	IPs      []string           `json:"ips" yaml:"ips"`
	Proxied  bool               `json:"proxied,omitempty" yaml:"proxied,omitempty"`
	Schedule *schedule.Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// RotationGroup is a between-records rotation unit: the members' live
// contents are permuted among each other.
type RotationGroup struct {
	Name     string             `json:"name" yaml:"name"`
	Records  []string           `json:"records" yaml:"records"`
	Schedule *schedule.Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Agent is a remote usage-monitoring agent reachable over HTTP.
type Agent struct {
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	APIKey string `json:"api_key" yaml:"api_key"`
}

// SelfMonitor configures the local self-monitoring usage source.
type SelfMonitor struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Interface string `json:"interface,omitempty" yaml:"interface,omitempty"`
	// ProcNetDev overrides the counters file path, for tests.
	ProcNetDev string `json:"proc_net_dev,omitempty" yaml:"proc_net_dev,omitempty"`
}

// Trigger fires when an agent's traffic volume exceeds a threshold within a
// period. Firing produces a state entry; configuration is never mutated.
type Trigger struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	Agent      string  `json:"agent" yaml:"agent"`
	Period     string  `json:"period" yaml:"period"` // d, w or m
	VolumeGB   float64 `json:"volume_gb" yaml:"volume_gb"`
	VolumeType string  `json:"volume_type" yaml:"volume_type"` // rx, tx or total
	Alert      bool    `json:"alert,omitempty" yaml:"alert,omitempty"`
}

// Settings holds engine-level options.
type Settings struct {
	StateDir            string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	HistoryDB           string `json:"history_db,omitempty" yaml:"history_db,omitempty"` // empty disables the audit log
	APIBaseURL          string `json:"api_base_url,omitempty" yaml:"api_base_url,omitempty"`
	StatusListenAddr    string `json:"status_listen_addr,omitempty" yaml:"status_listen_addr,omitempty"`
	LogLevel            string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	PassIntervalMinutes int    `json:"pass_interval_minutes,omitempty" yaml:"pass_interval_minutes,omitempty"`
}

// Load reads and parses a config file, applying defaults. The format is
// chosen by extension: .yaml/.yml is YAML, anything else is JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills optional fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.Settings.StateDir == "" {
		c.Settings.StateDir = "./data"
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = "info"
	}
	if c.Settings.StatusListenAddr == "" {
		c.Settings.StatusListenAddr = "localhost:9190"
	}
	if c.Settings.PassIntervalMinutes <= 0 {
		c.Settings.PassIntervalMinutes = 5
	}

	for ai := range c.Accounts {
		for zi := range c.Accounts[ai].Zones {
			zone := &c.Accounts[ai].Zones[zi]
			for ri := range zone.Records {
				if zone.Records[ri].Schedule == nil {
					// Legacy single-record configs without an explicit
					// schedule rotate every 30 minutes.
					zone.Records[ri].Schedule = schedule.Default()
				}
				if zone.Records[ri].Type == "" {
					zone.Records[ri].Type = "A"
				}
			}
		}
	}
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	accountNames := make(map[string]bool)
	for ai := range c.Accounts {
		acct := &c.Accounts[ai]
		if acct.Name == "" {
			return fmt.Errorf("account %d: name is required", ai)
		}
		if accountNames[acct.Name] {
			return fmt.Errorf("duplicate account name %q", acct.Name)
		}
		accountNames[acct.Name] = true
		if acct.APIToken == "" {
			return fmt.Errorf("account %q: api_token is required", acct.Name)
		}

		for zi := range acct.Zones {
			if err := c.validateZone(acct, &acct.Zones[zi]); err != nil {
				return err
			}
		}
	}

	agentNames := make(map[string]bool)
	for _, agent := range c.Agents {
		if agent.Name == "" || agent.URL == "" {
			return fmt.Errorf("agent entries require name and url")
		}
		if agent.Name == SelfMonitorAgent {
			return fmt.Errorf("agent name %q is reserved for the self-monitor", SelfMonitorAgent)
		}
		if agentNames[agent.Name] {
			return fmt.Errorf("duplicate agent name %q", agent.Name)
		}
		agentNames[agent.Name] = true
	}

	triggerIDs := make(map[string]bool)
	for _, trig := range c.Triggers {
		if trig.ID == "" {
			return fmt.Errorf("trigger %q: id is required", trig.Name)
		}
		if triggerIDs[trig.ID] {
			return fmt.Errorf("duplicate trigger id %q", trig.ID)
		}
		triggerIDs[trig.ID] = true

		switch trig.Period {
		case PeriodDaily, PeriodWeekly, PeriodMonthly:
		default:
			return fmt.Errorf("trigger %q: unknown period %q", trig.ID, trig.Period)
		}
		switch trig.VolumeType {
		case VolumeRX, VolumeTX, VolumeTotal:
		default:
			return fmt.Errorf("trigger %q: unknown volume_type %q", trig.ID, trig.VolumeType)
		}
		if trig.VolumeGB <= 0 {
			return fmt.Errorf("trigger %q: volume_gb must be positive", trig.ID)
		}

		if trig.Agent == SelfMonitorAgent {
			if c.SelfMonitor == nil || !c.SelfMonitor.Enabled {
				return fmt.Errorf("trigger %q targets the self-monitor, which is not enabled", trig.ID)
			}
		} else if !agentNames[trig.Agent] {
			return fmt.Errorf("trigger %q: unknown agent %q", trig.ID, trig.Agent)
		}
	}

	// Trigger-scheduled units must reference configured triggers.
	for _, acct := range c.Accounts {
		for _, zone := range acct.Zones {
			for _, rec := range zone.Records {
				if rec.Schedule.Type == schedule.TypeTrigger && !triggerIDs[rec.Schedule.TriggerID] {
					return fmt.Errorf("record %q: schedule references unknown trigger %q", rec.Name, rec.Schedule.TriggerID)
				}
			}
			for _, grp := range zone.RotationGroups {
				if grp.Schedule != nil && grp.Schedule.Type == schedule.TypeTrigger && !triggerIDs[grp.Schedule.TriggerID] {
					return fmt.Errorf("rotation group %q: schedule references unknown trigger %q", grp.Name, grp.Schedule.TriggerID)
				}
			}
		}
	}

	return nil
}

func (c *Config) validateZone(acct *Account, zone *Zone) error {
	if zone.ZoneID == "" {
		return fmt.Errorf("account %q: zone %q: zone_id is required", acct.Name, zone.Domain)
	}

	recordNames := make(map[string]bool)
	for _, rec := range zone.Records {
		if rec.Name == "" {
			return fmt.Errorf("zone %q: record name is required", zone.Domain)
		}
		if recordNames[rec.Name] {
			return fmt.Errorf("zone %q: duplicate record %q", zone.Domain, rec.Name)
		}
		recordNames[rec.Name] = true

		if rec.Type != "A" && rec.Type != "AAAA" {
			return fmt.Errorf("record %q: type must be A or AAAA, got %q", rec.Name, rec.Type)
		}
		if len(rec.IPs) == 0 {
			return fmt.Errorf("record %q: candidate IP list must not be empty", rec.Name)
		}
		for _, ip := range rec.IPs {
			if err := checkAddressFamily(rec.Type, ip); err != nil {
				return fmt.Errorf("record %q: %w", rec.Name, err)
			}
		}
		if rec.Schedule != nil {
			if err := rec.Schedule.Validate(); err != nil {
				return fmt.Errorf("record %q: %w", rec.Name, err)
			}
		}
	}

	groupNames := make(map[string]bool)
	for _, grp := range zone.RotationGroups {
		if grp.Name == "" {
			return fmt.Errorf("zone %q: rotation group name is required", zone.Domain)
		}
		if groupNames[grp.Name] {
			return fmt.Errorf("zone %q: duplicate rotation group %q", zone.Domain, grp.Name)
		}
		groupNames[grp.Name] = true

		if len(grp.Records) < 2 {
			return fmt.Errorf("rotation group %q: needs at least 2 member records", grp.Name)
		}
		members := make(map[string]bool)
		for _, name := range grp.Records {
			if members[name] {
				return fmt.Errorf("rotation group %q: duplicate member %q", grp.Name, name)
			}
			members[name] = true
		}
		if grp.Schedule != nil {
			if err := grp.Schedule.Validate(); err != nil {
				return fmt.Errorf("rotation group %q: %w", grp.Name, err)
			}
		}
	}

	return nil
}

// checkAddressFamily verifies an IP candidate matches the record type's
// address family (A=IPv4, AAAA=IPv6).
func checkAddressFamily(recordType, ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid IP %q: %w", ip, err)
	}
	switch recordType {
	case "A":
		if !addr.Is4() {
			return fmt.Errorf("IP %q is not IPv4 but record type is A", ip)
		}
	case "AAAA":
		if addr.Is4() {
			return fmt.Errorf("IP %q is not IPv6 but record type is AAAA", ip)
		}
	}
	return nil
}

// AgentByName returns the remote agent with the given name.
func (c *Config) AgentByName(name string) (*Agent, bool) {
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// TriggerByID returns the trigger with the given ID.
func (c *Config) TriggerByID(id string) (*Trigger, bool) {
	for i := range c.Triggers {
		if c.Triggers[i].ID == id {
			return &c.Triggers[i], true
		}
	}
	return nil, false
}
