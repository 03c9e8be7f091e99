/*
Package factory converts JSON and YAML rule-table documents into policy.Tables.

PURPOSE:
  Commission tiers, cancellation cutoffs and fee rates are business
  decisions. Finance edits them as a document under version control; the
  factory turns that document into validated policy.Tables values and a
  policy.History. Nothing is applied unless the whole document validates.

WHY STRINGS FOR MONEY AND RATES?
  Amounts and rates are written as decimal strings ("0.25", "1.50") and
  parsed with shopspring/decimal. A float in the document would round
  before the engine ever saw it.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  versions:
    - version: "2025-01"
      effective_from: "2025-01-01"
      commission_tiers:
        - {name: Standard, min_vehicles: 1, max_vehicles: 4, rate: "0.25"}
        - {name: Pro, min_vehicles: 5, max_vehicles: 14, rate: "0.20"}
        - {name: Fleet, min_vehicles: 15, rate: "0.15"}
      cancellation_policies:
        flexible: {cutoff_hours: 24}
        moderate: {cutoff_hours: 48}
        strict: {cutoff_hours: 168}
        super_strict: {}
      service_fee_rate: "0.15"
      insurance_platform_share: "0.30"
      processing_fee: "1.50"
      processing_fee_mode: per_disbursement
      hold_days: {standard: 3, new_host: 7, new_host_trip_threshold: 3}
      welcome_rate: "0.10"
      threshold_1099: {gross_receipts: "20000", transactions: 200}

USAGE:
  f := factory.NewPolicyFactory()
  history, err := f.LoadFile("configs/policy.yaml")
  tables, err := history.For(period.Start)

SEE ALSO:
  - policy/tables.go: Tables type and validation
  - policy/history.go: Version lookup by effective date
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// DocumentJSON is a file holding one or more table versions.
type DocumentJSON struct {
	Versions []TablesJSON `json:"versions" yaml:"versions"`
}

// TablesJSON is the serialized form of one policy.Tables version.
type TablesJSON struct {
	Version              string                `json:"version" yaml:"version"`
	EffectiveFrom        string                `json:"effective_from" yaml:"effective_from"`
	CommissionTiers      []TierJSON            `json:"commission_tiers" yaml:"commission_tiers"`
	CancellationPolicies map[string]CutoffJSON `json:"cancellation_policies" yaml:"cancellation_policies"`

	ServiceFeeRate         string `json:"service_fee_rate" yaml:"service_fee_rate"`
	InsurancePlatformShare string `json:"insurance_platform_share" yaml:"insurance_platform_share"`
	ProcessingFee          string `json:"processing_fee" yaml:"processing_fee"`
	ProcessingFeeMode      string `json:"processing_fee_mode,omitempty" yaml:"processing_fee_mode,omitempty"`

	HoldDays      HoldDaysJSON  `json:"hold_days" yaml:"hold_days"`
	WelcomeRate   string        `json:"welcome_rate" yaml:"welcome_rate"`
	Threshold1099 ThresholdJSON `json:"threshold_1099" yaml:"threshold_1099"`
}

// TierJSON is a commission tier. Omit max_vehicles for the top tier.
type TierJSON struct {
	Name        string `json:"name" yaml:"name"`
	MinVehicles int    `json:"min_vehicles" yaml:"min_vehicles"`
	MaxVehicles *int   `json:"max_vehicles,omitempty" yaml:"max_vehicles,omitempty"`
	Rate        string `json:"rate" yaml:"rate"`
}

// CutoffJSON is a cancellation rule. Omit cutoff_hours for never-refund.
type CutoffJSON struct {
	CutoffHours *int `json:"cutoff_hours,omitempty" yaml:"cutoff_hours,omitempty"`
}

// HoldDaysJSON holds the payout delays. Every key is required: zero is a
// valid delay, so an absent key cannot default to it.
type HoldDaysJSON struct {
	Standard             *int `json:"standard" yaml:"standard"`
	NewHost              *int `json:"new_host" yaml:"new_host"`
	NewHostTripThreshold *int `json:"new_host_trip_threshold" yaml:"new_host_trip_threshold"`
}

type ThresholdJSON struct {
	GrossReceipts string `json:"gross_receipts" yaml:"gross_receipts"`
	Transactions  int    `json:"transactions" yaml:"transactions"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts rule-table documents to policy.Tables.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParseJSON parses a JSON document into a validated History.
func (f *PolicyFactory) ParseJSON(data []byte) (*policy.History, error) {
	var doc DocumentJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromDocument(doc)
}

// ParseYAML parses a YAML document into a validated History.
func (f *PolicyFactory) ParseYAML(data []byte) (*policy.History, error) {
	var doc DocumentJSON
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	return f.FromDocument(doc)
}

// LoadFile reads a .json, .yaml or .yml document from disk.
func (f *PolicyFactory) LoadFile(path string) (*policy.History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseJSON(data)
	case ".yaml", ".yml":
		return f.ParseYAML(data)
	default:
		return nil, fmt.Errorf("policy file %s: unsupported extension", path)
	}
}

// FromDocument converts and validates every version. A single bad version
// rejects the whole document.
func (f *PolicyFactory) FromDocument(doc DocumentJSON) (*policy.History, error) {
	if len(doc.Versions) == 0 {
		return nil, generic.NewConfigurationError("versions", nil, "document holds no table versions")
	}
	versions := make([]policy.Tables, 0, len(doc.Versions))
	for _, tj := range doc.Versions {
		t, err := f.FromJSON(tj)
		if err != nil {
			return nil, err
		}
		versions = append(versions, t)
	}
	return policy.NewHistory(versions...)
}

// FromJSON converts one serialized version to policy.Tables and validates it.
func (f *PolicyFactory) FromJSON(tj TablesJSON) (policy.Tables, error) {
	p := &parser{version: generic.PolicyVersion(tj.Version)}

	t := policy.Tables{
		Version:                generic.PolicyVersion(tj.Version),
		EffectiveFrom:          p.date("effective_from", tj.EffectiveFrom),
		ServiceFeeRate:         p.rate("service_fee_rate", tj.ServiceFeeRate),
		InsurancePlatformShare: p.rate("insurance_platform_share", tj.InsurancePlatformShare),
		ProcessingFee:          p.money("processing_fee", tj.ProcessingFee),
		ProcessingFeeMode:      parseFeeMode(tj.ProcessingFeeMode),
		StandardHoldDays:       p.required("hold_days.standard", tj.HoldDays.Standard),
		NewHostHoldDays:        p.required("hold_days.new_host", tj.HoldDays.NewHost),
		NewHostTripThreshold:   p.required("hold_days.new_host_trip_threshold", tj.HoldDays.NewHostTripThreshold),
		WelcomeRate:            p.rate("welcome_rate", tj.WelcomeRate),
		Threshold1099: policy.Threshold1099{
			GrossReceipts: p.money("threshold_1099.gross_receipts", tj.Threshold1099.GrossReceipts),
			Transactions:  tj.Threshold1099.Transactions,
		},
		CancellationPolicies: make(map[policy.CancellationPolicyName]policy.CancellationRule, len(tj.CancellationPolicies)),
	}

	for _, tier := range tj.CommissionTiers {
		t.CommissionTiers = append(t.CommissionTiers, policy.CommissionTier{
			Name:        tier.Name,
			MinVehicles: tier.MinVehicles,
			MaxVehicles: tier.MaxVehicles,
			Rate:        p.rate("commission_tiers."+tier.Name, tier.Rate),
		})
	}
	for name, c := range tj.CancellationPolicies {
		t.CancellationPolicies[policy.CancellationPolicyName(name)] = policy.CancellationRule{CutoffHours: c.CutoffHours}
	}

	if p.err != nil {
		return policy.Tables{}, p.err
	}
	if err := t.Validate(); err != nil {
		return policy.Tables{}, err
	}
	return t, nil
}

// ToJSON converts policy.Tables to its serialized form.
func (f *PolicyFactory) ToJSON(t policy.Tables) TablesJSON {
	tj := TablesJSON{
		Version:                string(t.Version),
		EffectiveFrom:          t.EffectiveFrom.String(),
		ServiceFeeRate:         t.ServiceFeeRate.String(),
		InsurancePlatformShare: t.InsurancePlatformShare.String(),
		ProcessingFee:          t.ProcessingFee.String(),
		ProcessingFeeMode:      string(t.ProcessingFeeMode),
		HoldDays: HoldDaysJSON{
			Standard:             policy.IntPtr(t.StandardHoldDays),
			NewHost:              policy.IntPtr(t.NewHostHoldDays),
			NewHostTripThreshold: policy.IntPtr(t.NewHostTripThreshold),
		},
		WelcomeRate: t.WelcomeRate.String(),
		Threshold1099: ThresholdJSON{
			GrossReceipts: t.Threshold1099.GrossReceipts.String(),
			Transactions:  t.Threshold1099.Transactions,
		},
		CancellationPolicies: make(map[string]CutoffJSON, len(t.CancellationPolicies)),
	}
	for _, tier := range t.SortedTiers() {
		tj.CommissionTiers = append(tj.CommissionTiers, TierJSON{
			Name:        tier.Name,
			MinVehicles: tier.MinVehicles,
			MaxVehicles: tier.MaxVehicles,
			Rate:        tier.Rate.String(),
		})
	}
	for name, rule := range t.CancellationPolicies {
		tj.CancellationPolicies[string(name)] = CutoffJSON{CutoffHours: rule.CutoffHours}
	}
	return tj
}

// MarshalYAML renders a History as a YAML document, oldest version first.
func (f *PolicyFactory) MarshalYAML(h *policy.History) ([]byte, error) {
	var doc DocumentJSON
	for _, t := range h.Versions() {
		doc.Versions = append(doc.Versions, f.ToJSON(t))
	}
	return yaml.Marshal(doc)
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parser keeps the first field error so FromJSON reads straight through.
type parser struct {
	version generic.PolicyVersion
	err     error
}

func (p *parser) fail(field, value string, cause error) {
	if p.err != nil {
		return
	}
	ce := generic.NewConfigurationError(field, nil, "cannot parse %q: %v", value, cause)
	ce.Version = p.version
	p.err = ce
}

func (p *parser) required(field string, v *int) int {
	if v != nil {
		return *v
	}
	if p.err == nil {
		ce := generic.NewConfigurationError(field, generic.ErrMissingThreshold, "required key is absent")
		ce.Version = p.version
		p.err = ce
	}
	return 0
}

func (p *parser) decimal(field, s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		p.fail(field, s, err)
		return decimal.Zero
	}
	return d
}

func (p *parser) rate(field, s string) generic.Rate {
	return generic.NewRate(p.decimal(field, s))
}

func (p *parser) money(field, s string) generic.Money {
	return generic.NewMoney(p.decimal(field, s), generic.CurrencyUSD)
}

func (p *parser) date(field, s string) generic.TimePoint {
	tp, err := generic.ParseDate(s)
	if err != nil {
		p.fail(field, s, err)
	}
	return tp
}

func parseFeeMode(s string) policy.ProcessingFeeMode {
	if s == "" {
		return policy.FeePerDisbursement
	}
	return policy.ProcessingFeeMode(s)
}
