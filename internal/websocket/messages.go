package websocket

import (
	"time"

	"perpetual/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeEvent - событие движка (PositionOpened, LiquidationTriggered, ...)
	MessageTypeEvent MessageType = "event"

	// MessageTypeStatus - сводка (страховой фонд, кипер), отправляется по запросу сервиса
	MessageTypeStatus MessageType = "status"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - событие журнала
type EventMessage struct {
	BaseMessage
	Event models.Event `json:"event"`
}

// NewEventMessage создаёт сообщение с событием
func NewEventMessage(e models.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeEvent, Timestamp: e.Timestamp},
		Event:       e,
	}
}

// StatusMessage - произвольная сводка с именем раздела
type StatusMessage struct {
	BaseMessage
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

// NewStatusMessage создаёт сообщение со сводкой
func NewStatusMessage(topic string, data interface{}) *StatusMessage {
	return &StatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStatus, Timestamp: time.Now()},
		Topic:       topic,
		Data:        data,
	}
}
