package ingest

import (
	"encoding/json"
	"time"
)

// Vendor is the sensor family this normalizer understands.
const Vendor = "hfish"

// Alert is the envelope a sensor posts. A batch carries "list" summaries,
// per-attack "detail" records, or, for older sensors, a single alert in the
// top-level legacy fields.
type Alert struct {
	ResponseCode    int               `json:"response_code"`
	ResponseMessage string            `json:"response_message,omitempty"`
	ListInfos       []json.RawMessage `json:"list_infos"`
	AttackInfos     []json.RawMessage `json:"attack_infos"`
	AttackTrend     []TrendPoint      `json:"attack_trend"`

	IP          string      `json:"ip,omitempty"`
	Source      string      `json:"source,omitempty"`
	AttackType  interface{} `json:"attack_type,omitempty"`
	AttackCount interface{} `json:"attack_count,omitempty"`
}

// ListInfo summarises one attacking address as seen by a honeypot.
type ListInfo struct {
	ClientID       string      `json:"client_id"`
	ClientIP       string      `json:"client_ip"`
	ServiceName    string      `json:"service_name"`
	ServiceType    string      `json:"service_type"`
	AttackIP       string      `json:"attack_ip"`
	AttackCount    interface{} `json:"attack_count"`
	LastAttackTime interface{} `json:"last_attack_time"`
	Labels         interface{} `json:"labels"`
	LabelsCN       interface{} `json:"labels_cn"`
	IsWhite        interface{} `json:"is_white"`
	Intranet       interface{} `json:"intranet"`

	raw json.RawMessage
}

// HTTPInfo is the request metadata attached to a detail record.
type HTTPInfo struct {
	URL        string `json:"url,omitempty"`
	Method     string `json:"method,omitempty"`
	StatusCode *int   `json:"status_code,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// AttackInfo is a single attack observation.
type AttackInfo struct {
	InfoID     string      `json:"info_id"`
	AttackIP   string      `json:"attack_ip"`
	AttackPort *int        `json:"attack_port"`
	AttackTime interface{} `json:"attack_time"`
	VictimIP   string      `json:"victim_ip"`
	AttackRule interface{} `json:"attack_rule"`
	Info       *HTTPInfo   `json:"info"`
	Session    string      `json:"session"`
	ClientID   string      `json:"client_id"`

	raw json.RawMessage
}

// LegacyAlert is the single-alert shape carried in the envelope's top-level fields.
type LegacyAlert struct {
	IP          string      `json:"ip"`
	Source      string      `json:"source,omitempty"`
	AttackType  interface{} `json:"attack_type,omitempty"`
	AttackCount interface{} `json:"attack_count,omitempty"`
}

// TrendPoint is one bucket of the sensor's attack trend series.
type TrendPoint struct {
	AttackTime  interface{} `json:"attack_time"`
	AttackCount interface{} `json:"attack_count"`
}

// NormalizedTrend is a trend point with its time in UTC.
type NormalizedTrend struct {
	TrendTimeUTC string `json:"trend_time_utc"`
	TrendCount   int    `json:"trend_count"`
}

// Event is the canonical, not yet scored, form of one sensor item.
type Event struct {
	IP            string
	Source        string
	SourceVendor  string
	SourceType    string
	SourceEventID string
	AttackCount   int
	AssetIP       *string
	ServiceName   *string
	ServiceType   string
	ThreatLabel   string
	IsWhite       int
	OccurredAt    time.Time
	TraceID       string
	Raw           json.RawMessage
	Extra         map[string]interface{}
}

// Key is the idempotency key of the event.
func (e Event) Key() string {
	return e.SourceVendor + "/" + e.SourceEventID
}

// Batch is the outcome of normalizing one Alert.
type Batch struct {
	Events  []Event
	Invalid []string
	Trend   []NormalizedTrend
}
