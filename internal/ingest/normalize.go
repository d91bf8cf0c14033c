package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Item is one sensor record awaiting normalization. Each payload variant
// implements its own parser.
type Item interface {
	SourceType() string
	Normalize(traceID string, now time.Time) Result
}

// Result is the per-item outcome: either an Event or the reason it was rejected.
type Result struct {
	Event   *Event
	Invalid string
}

func invalid(format string, args ...interface{}) Result {
	return Result{Invalid: fmt.Sprintf(format, args...)}
}

// Normalizer converts sensor batches into canonical events.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time { return time.Now().UTC() }}
}

// Normalize is a convenience wrapper using a wall-clock Normalizer.
func Normalize(alert Alert, traceID string) Batch {
	return NewNormalizer().Normalize(alert, traceID)
}

// Normalize splits alert into items, normalizes each one and collects the
// reasons for rejected items. It never fails as a whole: a bad item is
// reported and the rest of the batch proceeds.
func (n *Normalizer) Normalize(alert Alert, traceID string) Batch {
	now := n.now()
	items, batch := decodeItems(alert)

	for _, item := range items {
		res := item.Normalize(traceID, now)
		if res.Event != nil {
			batch.Events = append(batch.Events, *res.Event)
			continue
		}
		batch.Invalid = append(batch.Invalid, res.Invalid)
	}

	if len(batch.Events) == 0 {
		if legacy, ok := legacyFrom(alert); ok {
			if res := legacy.Normalize(traceID, now); res.Event != nil {
				batch.Events = append(batch.Events, *res.Event)
			}
		}
	}

	batch.Trend = normalizeTrend(alert.AttackTrend)
	return batch
}

func decodeItems(alert Alert) ([]Item, Batch) {
	var batch Batch
	items := make([]Item, 0, len(alert.ListInfos)+len(alert.AttackInfos))

	for i, raw := range alert.ListInfos {
		var li ListInfo
		if err := decodeStrict(raw, &li); err != nil {
			batch.Invalid = append(batch.Invalid, fmt.Sprintf("list_infos[%d] malformed: %v", i, err))
			continue
		}
		li.raw = compact(raw)
		items = append(items, indexed{Item: &li, field: "list_infos", index: i})
	}

	for i, raw := range alert.AttackInfos {
		var ai AttackInfo
		if err := decodeStrict(raw, &ai); err != nil {
			batch.Invalid = append(batch.Invalid, fmt.Sprintf("attack_infos[%d] malformed: %v", i, err))
			continue
		}
		ai.raw = compact(raw)
		items = append(items, indexed{Item: &ai, field: "attack_infos", index: i})
	}

	return items, batch
}

// indexed prefixes an item's rejection reason with its position in the batch.
type indexed struct {
	Item
	field string
	index int
}

func (ix indexed) Normalize(traceID string, now time.Time) Result {
	res := ix.Item.Normalize(traceID, now)
	if res.Event == nil {
		res.Invalid = fmt.Sprintf("%s[%d] %s", ix.field, ix.index, res.Invalid)
	}
	return res
}

// SourceType implements Item.
func (li *ListInfo) SourceType() string { return "attack_source" }

// Normalize implements Item.
func (li *ListInfo) Normalize(traceID string, now time.Time) Result {
	ip := strings.TrimSpace(li.AttackIP)
	if ip == "" {
		return invalid("missing attack_ip")
	}

	attackAt, hasTime := ParseTime(li.LastAttackTime)
	eventID := strings.TrimSpace(li.ClientID)
	if eventID == "" {
		eventID = fallbackEventID(li.SourceType(), ip, attackAt, hasTime, li.raw)
	}

	source := strings.TrimSpace(li.ServiceName)
	if source == "" {
		source = Vendor
	}

	return Result{Event: &Event{
		IP:            ip,
		Source:        source,
		SourceVendor:  Vendor,
		SourceType:    li.SourceType(),
		SourceEventID: eventID,
		AttackCount:   maxInt(1, safeInt(li.AttackCount, 1)),
		AssetIP:       optionalString(li.ClientIP),
		ServiceName:   optionalString(li.ServiceName),
		ServiceType:   strings.TrimSpace(li.ServiceType),
		ThreatLabel:   normalizeLabel(li.Labels, li.LabelsCN),
		IsWhite:       toFlag(li.IsWhite),
		OccurredAt:    occurredAt(attackAt, hasTime, now),
		TraceID:       traceID,
		Raw:           li.raw,
		Extra: map[string]interface{}{
			"source_client_id":       nilIfEmpty(strings.TrimSpace(li.ClientID)),
			"intranet":               toFlag(li.Intranet),
			"last_attack_time_raw":   li.LastAttackTime,
			"normalized_attack_time": formatOptional(attackAt, hasTime),
		},
	}}
}

// SourceType implements Item.
func (ai *AttackInfo) SourceType() string { return "attack_detail" }

// Normalize implements Item.
func (ai *AttackInfo) Normalize(traceID string, now time.Time) Result {
	ip := strings.TrimSpace(ai.AttackIP)
	if ip == "" {
		return invalid("missing attack_ip")
	}

	attackAt, hasTime := ParseTime(ai.AttackTime)
	eventID := strings.TrimSpace(ai.InfoID)
	if eventID == "" {
		eventID = fallbackEventID(ai.SourceType(), ip, attackAt, hasTime, ai.raw)
	}

	httpMeta := interface{}(map[string]interface{}{})
	if ai.Info != nil {
		httpMeta = ai.Info
	}

	serviceName := "attack_detail"
	return Result{Event: &Event{
		IP:            ip,
		Source:        "hfish_attack_detail",
		SourceVendor:  Vendor,
		SourceType:    ai.SourceType(),
		SourceEventID: eventID,
		AttackCount:   1,
		AssetIP:       optionalString(ai.VictimIP),
		ServiceName:   &serviceName,
		ServiceType:   Vendor,
		ThreatLabel:   normalizeLabel(ai.AttackRule),
		OccurredAt:    occurredAt(attackAt, hasTime, now),
		TraceID:       traceID,
		Raw:           ai.raw,
		Extra: map[string]interface{}{
			"attack_port":            ai.AttackPort,
			"session":                nilIfEmpty(ai.Session),
			"http_meta":              httpMeta,
			"rule_hits":              ai.AttackRule,
			"normalized_attack_time": formatOptional(attackAt, hasTime),
		},
	}}
}

// SourceType implements Item.
func (la *LegacyAlert) SourceType() string { return "legacy_alert" }

// Normalize implements Item.
func (la *LegacyAlert) Normalize(traceID string, now time.Time) Result {
	ip := strings.TrimSpace(la.IP)
	if ip == "" {
		return invalid("missing ip")
	}

	raw, _ := json.Marshal(la)
	source := strings.TrimSpace(la.Source)
	if source == "" {
		source = "legacy_hfish"
	}

	return Result{Event: &Event{
		IP:            ip,
		Source:        source,
		SourceVendor:  Vendor,
		SourceType:    la.SourceType(),
		SourceEventID: fallbackEventID(la.SourceType(), ip, time.Time{}, false, raw),
		AttackCount:   maxInt(1, safeInt(la.AttackCount, 1)),
		ServiceName:   optionalString(la.Source),
		ServiceType:   "legacy",
		ThreatLabel:   normalizeLabel(la.AttackType),
		OccurredAt:    now,
		TraceID:       traceID,
		Raw:           raw,
		Extra:         map[string]interface{}{"legacy_payload": true},
	}}
}

func legacyFrom(alert Alert) (*LegacyAlert, bool) {
	if strings.TrimSpace(alert.IP) == "" {
		return nil, false
	}
	return &LegacyAlert{
		IP:          alert.IP,
		Source:      alert.Source,
		AttackType:  alert.AttackType,
		AttackCount: alert.AttackCount,
	}, true
}

func normalizeTrend(points []TrendPoint) []NormalizedTrend {
	out := make([]NormalizedTrend, 0, len(points))
	for _, p := range points {
		ts, ok := ParseTime(p.AttackTime)
		if !ok {
			continue
		}
		out = append(out, NormalizedTrend{
			TrendTimeUTC: FormatUTC(ts),
			TrendCount:   maxInt(0, safeInt(p.AttackCount, 0)),
		})
	}
	return out
}

// fallbackEventID derives a stable key for items that carry no upstream id:
// sha256 over source type, address, normalized time and the canonical form of
// the raw item, truncated to 16 hex characters.
func fallbackEventID(sourceType, ip string, at time.Time, hasTime bool, raw json.RawMessage) string {
	ts := "none"
	if hasTime {
		ts = FormatUTC(at)
	}
	seed := sourceType + "|" + ip + "|" + ts + "|" + string(canonicalJSON(raw))
	sum := sha256.Sum256([]byte(seed))
	return "fallback-" + sourceType + "-" + hex.EncodeToString(sum[:])[:16]
}

// canonicalJSON re-encodes raw with sorted object keys so that key order and
// whitespace in the upstream payload do not change the fallback key.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func decodeStrict(raw json.RawMessage, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func occurredAt(at time.Time, ok bool, now time.Time) time.Time {
	if ok {
		return at
	}
	return now
}

func formatOptional(at time.Time, ok bool) interface{} {
	if !ok {
		return nil
	}
	return FormatUTC(at)
}
