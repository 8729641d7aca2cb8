package risk

// 信号键
const (
	SignalFailedLoginBurst = "failed_login_burst"
	SignalNightAccess      = "night_access"
	SignalNewCountry       = "new_country"
	SignalNewDevice        = "new_device"
)

const (
	// BurstThreshold 窗口内失败登录达到该次数才触发
	BurstThreshold     = 5
	burstWeightPerFail = 10
	burstWeightCap     = 40

	nightAccessWeight = 15
	newCountryWeight  = 25
	newDeviceWeight   = 20

	highScoreThreshold = 60
	medScoreThreshold  = 30
)

// rule 一条评分规则；eval 返回信号值、权重以及是否触发
type rule struct {
	key      string
	eval     func(Features) (any, int, bool)
	reason   string
	action   string
	priority Priority
	why      string
}

// 规则按固定顺序评估，输出的信号与建议顺序与此一致
var rules = []rule{
	{
		key: SignalFailedLoginBurst,
		eval: func(f Features) (any, int, bool) {
			if f.FailedLoginBurstCount < BurstThreshold {
				return nil, 0, false
			}
			return f.FailedLoginBurstCount, min(burstWeightCap, burstWeightPerFail*f.FailedLoginBurstCount), true
		},
		reason:   "Repeated login failures within the last 5 minutes indicate possible credential stuffing or brute force.",
		action:   "Temporarily lock the account or apply CAPTCHA / rate limiting",
		priority: PriorityP0,
		why:      "Repeated failures in a short window are most likely automated attacks.",
	},
	{
		key: SignalNightAccess,
		eval: func(f Features) (any, int, bool) {
			return true, nightAccessWeight, f.NightAccess
		},
		reason:   "Access during night hours may deviate from the usual pattern and needs confirmation.",
		action:   "Review recent activity logs for this session and account",
		priority: PriorityP2,
		why:      "Confirming whether night access is legitimate work reduces false positives.",
	},
	{
		key: SignalNewCountry,
		eval: func(f Features) (any, int, bool) {
			return true, newCountryWeight, f.NewCountry
		},
		reason:   "Access from a country not observed before indicates possible account takeover.",
		action:   "Require MFA re-authentication or prompt a password change",
		priority: PriorityP1,
		why:      "Re-authentication is an effective defense against logins from new locations.",
	},
	{
		key: SignalNewDevice,
		eval: func(f Features) (any, int, bool) {
			return true, newDeviceWeight, f.NewDevice
		},
		reason:   "Login from a device not observed before indicates possible device theft or session hijacking.",
		action:   "Require step-up MFA or terminate the session and confirm with the user out-of-band",
		priority: PriorityP1,
		why:      "Additional authentication on new devices greatly limits account takeover damage.",
	},
}

// Score 根据特征计算风险评分、等级与决策，并生成信号和建议处置
func Score(f Features) (Summary, []Signal, []ActionItem) {
	signals := make([]Signal, 0, len(rules))
	actions := make([]ActionItem, 0, len(rules))
	score := 0

	for _, r := range rules {
		value, weight, triggered := r.eval(f)
		if !triggered {
			continue
		}
		score += weight
		signals = append(signals, Signal{
			Key:    r.key,
			Value:  value,
			Weight: weight,
			Reason: r.reason,
		})
		actions = append(actions, ActionItem{
			Action:   r.action,
			Priority: r.priority,
			Why:      r.why,
		})
	}

	level := LevelFor(score)
	return Summary{
		RiskScore: score,
		RiskLevel: level,
		Decision:  DecisionFor(level),
	}, signals, actions
}

// LevelFor 将分数分桶为风险等级
func LevelFor(score int) Level {
	switch {
	case score >= highScoreThreshold:
		return LevelHigh
	case score >= medScoreThreshold:
		return LevelMed
	default:
		return LevelLow
	}
}

// DecisionFor 将风险等级映射为处置决策
func DecisionFor(level Level) Decision {
	switch level {
	case LevelHigh:
		return DecisionEscalate
	case LevelMed:
		return DecisionReview
	default:
		return DecisionAllow
	}
}
