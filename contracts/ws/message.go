// Package ws 定义推送给浏览器的实时消息
package ws

// 消息类型
const (
	TypeDealUpdated     = "deal.updated"
	TypeActivityCreated = "activity.created"
	TypeActivityUpdated = "activity.updated"
)

// Message 服务端推送的唯一消息格式
type Message struct {
	Type   string `json:"type"`
	DealID int64  `json:"deal_id"`
	Data   any    `json:"data"`
}
