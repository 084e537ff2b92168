package attendance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PolicyConfig is the configuration form of a group policy. Times are "15:04".
type PolicyConfig struct {
	GracePeriodUntil     string  `mapstructure:"grace_period_until" validate:"required,datetime=15:04"`
	HalfDayAfter         string  `mapstructure:"half_day_after" validate:"omitempty,datetime=15:04"`
	HalfDayBefore        string  `mapstructure:"half_day_before" validate:"omitempty,datetime=15:04"`
	RequiredHours        float64 `mapstructure:"required_hours" validate:"gte=0,lte=24"`
	OvertimeEligibleFrom string  `mapstructure:"overtime_eligible_from" validate:"omitempty,datetime=15:04"`

	ShortLeave ShortLeaveConfig `mapstructure:"short_leave"`
}

// ShortLeaveConfig is the configuration form of a short-leave policy.
type ShortLeaveConfig struct {
	MaxPerMonth         int    `mapstructure:"max_per_month" validate:"gte=0"`
	MorningStart        string `mapstructure:"morning_start" validate:"omitempty,datetime=15:04"`
	MorningEnd          string `mapstructure:"morning_end" validate:"omitempty,datetime=15:04"`
	EveningStart        string `mapstructure:"evening_start" validate:"omitempty,datetime=15:04"`
	EveningEnd          string `mapstructure:"evening_end" validate:"omitempty,datetime=15:04"`
	PreApprovalRequired bool   `mapstructure:"pre_approval_required"`
}

// Policy is the compiled rule set of one employee group.
type Policy struct {
	Group            string
	GracePeriodUntil ClockTime
	// HalfDay is the open interval (HalfDayAfter, HalfDayBefore) of first-IN
	// times that make the day a half day. Zero disables the check.
	HalfDayAfter    ClockTime
	HalfDayBefore   ClockTime
	RequiredMinutes int
	// OvertimeEligibleFrom is the earliest first-IN time for which a day
	// accrues overtime. Zero means every day with an OUT punch qualifies.
	OvertimeEligibleFrom ClockTime
	ShortLeave           ShortLeavePolicy
}

// ShortLeavePolicy limits short leaves per month and to permitted windows.
type ShortLeavePolicy struct {
	MaxPerMonth         int
	Morning             Window
	Evening             Window
	PreApprovalRequired bool
}

// HasHalfDay reports whether a half-day window is configured.
func (p Policy) HasHalfDay() bool {
	return p.HalfDayBefore > 0
}

// Compile validates c and converts it into a Policy for group.
func (c PolicyConfig) Compile(group string) (Policy, error) {
	if err := validate.Struct(c); err != nil {
		return Policy{}, fmt.Errorf("invalid policy for group %q: %w", group, err)
	}

	p := Policy{
		Group:           group,
		RequiredMinutes: int(c.RequiredHours * 60),
		ShortLeave: ShortLeavePolicy{
			MaxPerMonth:         c.ShortLeave.MaxPerMonth,
			PreApprovalRequired: c.ShortLeave.PreApprovalRequired,
		},
	}

	clocks := []struct {
		src string
		dst *ClockTime
	}{
		{c.GracePeriodUntil, &p.GracePeriodUntil},
		{c.HalfDayAfter, &p.HalfDayAfter},
		{c.HalfDayBefore, &p.HalfDayBefore},
		{c.OvertimeEligibleFrom, &p.OvertimeEligibleFrom},
		{c.ShortLeave.MorningStart, &p.ShortLeave.Morning.Start},
		{c.ShortLeave.MorningEnd, &p.ShortLeave.Morning.End},
		{c.ShortLeave.EveningStart, &p.ShortLeave.Evening.Start},
		{c.ShortLeave.EveningEnd, &p.ShortLeave.Evening.End},
	}
	for _, cl := range clocks {
		if cl.src == "" {
			continue
		}
		v, err := ParseClock(cl.src)
		if err != nil {
			return Policy{}, fmt.Errorf("group %q: %w", group, err)
		}
		*cl.dst = v
	}

	if (c.HalfDayAfter != "") != (c.HalfDayBefore != "") {
		return Policy{}, fmt.Errorf("group %q: half_day_after and half_day_before must be set together", group)
	}
	if (c.ShortLeave.MorningStart != "") != (c.ShortLeave.MorningEnd != "") ||
		(c.ShortLeave.EveningStart != "") != (c.ShortLeave.EveningEnd != "") {
		return Policy{}, fmt.Errorf("group %q: short leave windows need both start and end", group)
	}
	if p.HasHalfDay() && p.HalfDayBefore <= p.HalfDayAfter {
		return Policy{}, fmt.Errorf("group %q: half_day_before %s must be after half_day_after %s", group, p.HalfDayBefore, p.HalfDayAfter)
	}
	return p, nil
}

// PolicySource resolves the policy of an employee group.
type PolicySource interface {
	Policy(group string) (Policy, bool)
	DefaultGroup() string
}

// PolicySet is a static PolicySource built from configuration.
type PolicySet struct {
	policies     map[string]Policy
	defaultGroup string
}

// NewPolicySet compiles every group policy. defaultGroup must be one of them.
func NewPolicySet(groups map[string]PolicyConfig, defaultGroup string) (*PolicySet, error) {
	if len(groups) == 0 {
		return nil, errors.New("at least one group policy is required")
	}

	set := &PolicySet{policies: make(map[string]Policy, len(groups)), defaultGroup: defaultGroup}
	for group, cfg := range groups {
		p, err := cfg.Compile(group)
		if err != nil {
			return nil, err
		}
		set.policies[group] = p
	}

	if _, ok := set.policies[defaultGroup]; !ok {
		return nil, fmt.Errorf("default group %q has no policy", defaultGroup)
	}
	return set, nil
}

// Policy implements PolicySource.
func (s *PolicySet) Policy(group string) (Policy, bool) {
	p, ok := s.policies[group]
	return p, ok
}

// DefaultGroup implements PolicySource.
func (s *PolicySet) DefaultGroup() string {
	return s.defaultGroup
}

// Groups returns the configured group names in order.
func (s *PolicySet) Groups() []string {
	out := make([]string, 0, len(s.policies))
	for g := range s.policies {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
