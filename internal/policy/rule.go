// Package policy defines the persisted firewall entities and the static
// owned-chain map. It knows which chains and actions each table permits
// but performs no I/O of its own.
package policy

import "time"

// Rule is one user-authored filtering directive. Match fields and action
// parameters are optional; empty means unset. Order is dense and zero-based
// within the rule's (table, chain) group, lower applies first.
type Rule struct {
	ID            string    `json:"id" yaml:"id"`
	Table         string    `json:"table" yaml:"table"`
	Chain         string    `json:"chain" yaml:"chain"`
	Action        string    `json:"action" yaml:"action"`
	Protocol      string    `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Source        string    `json:"source,omitempty" yaml:"source,omitempty"`
	Destination   string    `json:"destination,omitempty" yaml:"destination,omitempty"`
	Port          string    `json:"port,omitempty" yaml:"port,omitempty"`
	InInterface   string    `json:"in_interface,omitempty" yaml:"in_interface,omitempty"`
	OutInterface  string    `json:"out_interface,omitempty" yaml:"out_interface,omitempty"`
	State         string    `json:"state,omitempty" yaml:"state,omitempty"`
	LimitRate     string    `json:"limit_rate,omitempty" yaml:"limit_rate,omitempty"`
	LimitBurst    int       `json:"limit_burst,omitempty" yaml:"limit_burst,omitempty"`
	ToDestination string    `json:"to_destination,omitempty" yaml:"to_destination,omitempty"`
	ToSource      string    `json:"to_source,omitempty" yaml:"to_source,omitempty"`
	ToPorts       string    `json:"to_ports,omitempty" yaml:"to_ports,omitempty"`
	LogPrefix     string    `json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
	LogLevel      string    `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	RejectWith    string    `json:"reject_with,omitempty" yaml:"reject_with,omitempty"`
	Comment       string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	Order         int       `json:"order" yaml:"order"`
	Enabled       bool      `json:"enabled" yaml:"enabled"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// GroupKey identifies the (table, chain) ordering group a rule belongs to.
func (r *Rule) GroupKey() string {
	return r.Table + "/" + r.Chain
}

// RuleUpdate carries a partial rule modification. Nil fields are left
// untouched; a pointer to the zero value clears the field.
type RuleUpdate struct {
	Chain         *string `json:"chain,omitempty"`
	Action        *string `json:"action,omitempty"`
	Protocol      *string `json:"protocol,omitempty"`
	Source        *string `json:"source,omitempty"`
	Destination   *string `json:"destination,omitempty"`
	Port          *string `json:"port,omitempty"`
	InInterface   *string `json:"in_interface,omitempty"`
	OutInterface  *string `json:"out_interface,omitempty"`
	State         *string `json:"state,omitempty"`
	LimitRate     *string `json:"limit_rate,omitempty"`
	LimitBurst    *int    `json:"limit_burst,omitempty"`
	ToDestination *string `json:"to_destination,omitempty"`
	ToSource      *string `json:"to_source,omitempty"`
	ToPorts       *string `json:"to_ports,omitempty"`
	LogPrefix     *string `json:"log_prefix,omitempty"`
	LogLevel      *string `json:"log_level,omitempty"`
	RejectWith    *string `json:"reject_with,omitempty"`
	Comment       *string `json:"comment,omitempty"`
	Table         *string `json:"table,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// Apply merges the update into r, leaving nil fields alone.
func (u *RuleUpdate) Apply(r *Rule) {
	if u.Table != nil {
		r.Table = *u.Table
	}
	if u.Chain != nil {
		r.Chain = *u.Chain
	}
	if u.Action != nil {
		r.Action = *u.Action
	}
	if u.Protocol != nil {
		r.Protocol = *u.Protocol
	}
	if u.Source != nil {
		r.Source = *u.Source
	}
	if u.Destination != nil {
		r.Destination = *u.Destination
	}
	if u.Port != nil {
		r.Port = *u.Port
	}
	if u.InInterface != nil {
		r.InInterface = *u.InInterface
	}
	if u.OutInterface != nil {
		r.OutInterface = *u.OutInterface
	}
	if u.State != nil {
		r.State = *u.State
	}
	if u.LimitRate != nil {
		r.LimitRate = *u.LimitRate
	}
	if u.LimitBurst != nil {
		r.LimitBurst = *u.LimitBurst
	}
	if u.ToDestination != nil {
		r.ToDestination = *u.ToDestination
	}
	if u.ToSource != nil {
		r.ToSource = *u.ToSource
	}
	if u.ToPorts != nil {
		r.ToPorts = *u.ToPorts
	}
	if u.LogPrefix != nil {
		r.LogPrefix = *u.LogPrefix
	}
	if u.LogLevel != nil {
		r.LogLevel = *u.LogLevel
	}
	if u.RejectWith != nil {
		r.RejectWith = *u.RejectWith
	}
	if u.Comment != nil {
		r.Comment = *u.Comment
	}
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
}

// ExtensionChain is a chain registered by an external component. The engine
// guarantees it a jump slot behind the owned chain, ordered among other
// extension chains by ascending priority.
type ExtensionChain struct {
	ID          string    `json:"id" yaml:"id"`
	ExtensionID string    `json:"extension_id" yaml:"extension_id"`
	ChainName   string    `json:"chain_name" yaml:"chain_name"`
	ParentChain string    `json:"parent_chain" yaml:"parent_chain"`
	Table       string    `json:"table" yaml:"table"`
	Priority    int       `json:"priority" yaml:"priority"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// DefaultChainPriority is assigned when a registration does not specify one.
const DefaultChainPriority = 50

// OrderAssignment pairs a rule id with a target order, used by bulk reorder.
type OrderAssignment struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// PriorityAssignment pairs an extension chain id with a target priority.
type PriorityAssignment struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}
