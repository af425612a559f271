package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sync.Pool для JSON буферов: Broadcast вызывается на каждое событие движка
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// broadcastBufferSize - ёмкость очереди broadcast
const broadcastBufferSize = 1024

// outbound - сериализованное сообщение и тип события для фильтра клиентов
type outbound struct {
	data      []byte
	eventType string
}

// Hub управляет всеми активными WebSocket соединениями потока событий
//
// Каждое событие движка сериализуется один раз и рассылается всем
// клиентам, подписанным на его тип. Broadcast не блокирует вызывающего:
// при заполненной очереди сообщение отбрасывается и учитывается в
// DroppedMessages. Медленные клиенты отключаются.
//
// Использование:
// 1. Создать hub: hub := NewHub(origins, log)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять события: hub.BroadcastEvent(e)
// 4. Остановить: hub.Stop()
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	origins *OriginChecker
	log     *utils.Logger

	dropped     atomic.Int64
	clientCount atomic.Int64

	mu sync.RWMutex
}

// NewHub создает Hub. Пустой список origins разрешает любые.
func NewHub(origins []string, log *utils.Logger) *Hub {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(origins),
		log:        log.WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientCount.Store(0)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.clientCount.Store(int64(n))
			h.log.Debug("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.clientCount.Store(int64(n))
			h.log.Debug("client disconnected", utils.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				if !client.wants(msg.eventType) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.clientCount.Store(int64(n))
				h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", n))
			}
		}
	}
}

// Stop останавливает Run и закрывает каналы клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и отправляет всем клиентам без фильтра
func (h *Hub) Broadcast(message interface{}) {
	h.send(message, "")
}

// BroadcastEvent отправляет событие движка клиентам, подписанным на его тип
func (h *Hub) BroadcastEvent(e models.Event) {
	h.send(NewEventMessage(e), e.Type)
}

// BroadcastStatus отправляет сводку всем клиентам
func (h *Hub) BroadcastStatus(topic string, data interface{}) {
	h.send(NewStatusMessage(topic, data), "")
}

func (h *Hub) send(message interface{}, eventType string) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("marshal broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode добавляет trailing newline
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.enqueue(outbound{data: msgCopy, eventType: eventType})
}

// BroadcastRaw отправляет уже сериализованные данные
func (h *Hub) BroadcastRaw(data []byte) {
	h.enqueue(outbound{data: data})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount возвращает количество подключенных клиентов (без блокировки)
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// DroppedMessages возвращает число отброшенных из-за переполнения сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
