package entity

// Pricing is expressed in currency units per 1k tokens.
type Pricing struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

func (p Pricing) IsFree() bool {
	return p.Input == 0 && p.Output == 0
}

// Cost of a single generation given its token usage.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.Input + float64(u.CompletionTokens)/1000*p.Output
}

type ModelInfo struct {
	ID            string   `json:"id" yaml:"id"`
	Provider      string   `json:"provider" yaml:"provider"`
	Cost          Pricing  `json:"cost" yaml:"cost"`
	ContextLength int      `json:"context_length" yaml:"context-length"`
	Capabilities  []string `json:"capabilities" yaml:"capabilities"`
}

func (m ModelInfo) HasCapability(c string) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

type TaskType string

const (
	TaskText       TaskType = "text"
	TaskCode       TaskType = "code"
	TaskCreative   TaskType = "creative"
	TaskAnalysis   TaskType = "analysis"
	TaskMultimodal TaskType = "multimodal"
)

type BudgetTier string

const (
	BudgetFree   BudgetTier = "free"
	BudgetLow    BudgetTier = "low"
	BudgetMedium BudgetTier = "medium"
	BudgetHigh   BudgetTier = "high"
)

type SpeedPreference string

const (
	PreferSpeed    SpeedPreference = "speed"
	PreferQuality  SpeedPreference = "quality"
	PreferBalanced SpeedPreference = "balanced"
)

type RecommendationFilter struct {
	Task          TaskType
	Budget        BudgetTier
	Speed         SpeedPreference
	ContextLength int
}

type Recommendation struct {
	Model ModelInfo
	Score float64
}

type ModelFilter struct {
	Provider   string
	Capability string
	FreeOnly   bool
	MaxInput   *float64
}

type Strategy string

const (
	StrategyCostOptimized     Strategy = "cost-optimized"
	StrategyPerformanceFirst  Strategy = "performance-first"
	StrategyProviderDiversity Strategy = "provider-diversity"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyCostOptimized, StrategyPerformanceFirst, StrategyProviderDiversity:
		return Strategy(s), true
	}
	return "", false
}
