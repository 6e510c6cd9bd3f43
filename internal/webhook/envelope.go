package webhook

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// 表单字段名
const (
	formEvent            = "event"
	formEventHandlerID   = "event_handler_id"
	formEntityID         = "data[FIELDS][ID]"
	formTimestamp        = "ts"
	formDomain           = "auth[domain]"
	formClientEndpoint   = "auth[client_endpoint]"
	formServerEndpoint   = "auth[server_endpoint]"
	formMemberID         = "auth[member_id]"
	formApplicationToken = "auth[application_token]"
)

// Envelope 是一次入站通知
type Envelope struct {
	Event            string `json:"event"`
	EventHandlerID   string `json:"event_handler_id"`
	EntityID         int64  `json:"entity_id"`
	Timestamp        int64  `json:"ts"`
	Domain           string `json:"domain"`
	ClientEndpoint   string `json:"client_endpoint"`
	ServerEndpoint   string `json:"server_endpoint"`
	MemberID         string `json:"member_id"`
	ApplicationToken string `json:"-"`
}

// Bind 从表单解析通知，所有字段必填，ID 和 ts 必须是正整数
func Bind(form url.Values) (*Envelope, error) {
	var missing []string
	get := func(key string) string {
		v := strings.TrimSpace(form.Get(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	env := &Envelope{
		Event:            get(formEvent),
		EventHandlerID:   get(formEventHandlerID),
		Domain:           get(formDomain),
		ClientEndpoint:   get(formClientEndpoint),
		ServerEndpoint:   get(formServerEndpoint),
		MemberID:         get(formMemberID),
		ApplicationToken: get(formApplicationToken),
	}
	rawID := get(formEntityID)
	rawTS := get(formTimestamp)
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	var err error
	if env.EntityID, err = positiveInt(formEntityID, rawID); err != nil {
		return nil, err
	}
	if env.Timestamp, err = positiveInt(formTimestamp, rawTS); err != nil {
		return nil, err
	}
	return env, nil
}

func positiveInt(field, raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", field, raw)
	}
	return n, nil
}

// DedupeKey 同一次投递的重放会得到相同的 key
func (e *Envelope) DedupeKey() string {
	return fmt.Sprintf("webhook:%s:%d:%d", e.Event, e.EntityID, e.Timestamp)
}

// Kind 通知路由结果
type Kind int

const (
	KindIgnored Kind = iota
	KindDeal
	KindActivity
)

func (k Kind) String() string {
	switch k {
	case KindDeal:
		return "deal"
	case KindActivity:
		return "activity"
	default:
		return "ignored"
	}
}

// Classify 按事件名前缀分类；删除事件不处理，本地记录从不删除
func Classify(event string) Kind {
	e := strings.ToUpper(strings.TrimSpace(event))
	if strings.HasSuffix(e, "DELETE") {
		return KindIgnored
	}
	switch {
	case strings.HasPrefix(e, "ONCRMDEAL"):
		return KindDeal
	case strings.HasPrefix(e, "ONCRMACTIVITY"):
		return KindActivity
	default:
		return KindIgnored
	}
}
