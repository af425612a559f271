package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpetual/internal/api/handlers"
	"perpetual/internal/api/middleware"
	"perpetual/internal/service"
	"perpetual/internal/websocket"
	"perpetual/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Trading    service.TradingServiceInterface
	Governance service.GovernanceServiceInterface
	Events     service.EventServiceInterface
	Hub        *websocket.Hub
	Logger     *utils.Logger

	AllowedOrigins []string
	Auth           middleware.AuthConfig
	Signatures     middleware.SignatureConfig
}

// symbolPath - символ рынка ETH/USD занимает два сегмента пути
const symbolPath = "/{base}/{quote}"

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /markets/
//	│   ├── GET / - список рынков
//	│   ├── GET /{base}/{quote} - рынок
//	│   └── POST /{base}/{quote}/funding - обновить ставку фандинга
//	├── /positions/
//	│   ├── GET /?trader= - открытые позиции
//	│   ├── POST / - открыть позицию *
//	│   ├── GET /{id} - позиция с оценкой риска
//	│   ├── POST /{id}/close - закрыть *
//	│   ├── POST /{id}/collateral - добавить залог *
//	│   ├── POST /{id}/collateral/remove - вывести залог *
//	│   ├── POST /{id}/liquidate - ликвидировать *
//	│   ├── GET /{id}/liquidation - оценка ликвидации
//	│   └── GET /{id}/events - история событий
//	├── /liquidators/
//	│   ├── GET / - список
//	│   ├── POST / - регистрация *
//	│   └── GET /{address} - статистика
//	├── /keeper/
//	│   ├── GET /targets - цели
//	│   ├── POST /refresh - обновить цели
//	│   ├── POST /execute - батч ликвидаций
//	│   └── GET /last-batch - последний батч
//	├── /insurance/
//	│   ├── GET / - состояние фонда
//	│   ├── POST /contributions - взнос *
//	│   ├── GET /claims - заявки
//	│   └── POST /distribute - распределение вознаграждений
//	├── /prices/
//	│   ├── GET /{base}/{quote} - цена
//	│   └── GET /{base}/{quote}/twap - TWAP
//	├── GET /events - журнал событий
//	└── /governance/ (Bearer токен)
//	    ├── POST /markets - создать рынок
//	    ├── PUT /markets/{base}/{quote}/risk - параметры риска
//	    ├── PUT /markets/{base}/{quote}/active - вкл/выкл рынок
//	    ├── PUT /liquidators/{address}/active - вкл/выкл ликвидатора
//	    ├── PUT /claimants/{address} - права заявителя
//	    ├── POST /claims/{id}/approve|reject|pay - заявки фонда
//	    └── PUT /prices/{base}/{quote} - ручная цена
//
// * - подпись трейдера (X-Trader-Address, X-Trader-Timestamp, X-Trader-Signature)
//
// /ws/stream - WebSocket поток событий (?types=PositionOpened,...)
// /metrics - Prometheus
// /health - платежеспособность
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. GovernanceAuth (только /api/v1/governance)
// 5. TraderSignature (изменяющие endpoints трейдера)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	// Preflight OPTIONS не совпадает ни с одним маршрутом по методу и
	// попадает в обработчик 405, где CORS отвечает 204. Подроутер без
	// собственного обработчика отдал бы 404, поэтому он ставится на каждый.
	methodNotAllowed := middleware.CORS(deps.AllowedOrigins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	router.MethodNotAllowedHandler = methodNotAllowed

	api := router.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = methodNotAllowed

	if deps.Trading != nil {
		traderAuth := middleware.TraderSignature(deps.Signatures, deps.Logger)
		signed := func(h http.HandlerFunc) http.Handler { return traderAuth(h) }

		markets := handlers.NewMarketHandler(deps.Trading)
		api.HandleFunc("/markets", markets.ListMarkets).Methods("GET")
		api.HandleFunc("/markets"+symbolPath, markets.GetMarket).Methods("GET")
		api.HandleFunc("/markets"+symbolPath+"/funding", markets.UpdateFunding).Methods("POST")

		positions := handlers.NewPositionHandler(deps.Trading, deps.Events)
		api.HandleFunc("/positions", positions.ListPositions).Methods("GET")
		api.Handle("/positions", signed(positions.OpenPosition)).Methods("POST")
		api.HandleFunc("/positions/{id}", positions.GetPosition).Methods("GET")
		api.Handle("/positions/{id}/close", signed(positions.ClosePosition)).Methods("POST")
		api.Handle("/positions/{id}/collateral", signed(positions.AddCollateral)).Methods("POST")
		api.Handle("/positions/{id}/collateral/remove", signed(positions.RemoveCollateral)).Methods("POST")
		if deps.Events != nil {
			api.HandleFunc("/positions/{id}/events", positions.GetPositionEvents).Methods("GET")
		}

		liquidations := handlers.NewLiquidationHandler(deps.Trading)
		api.Handle("/positions/{id}/liquidate", signed(liquidations.Liquidate)).Methods("POST")
		api.HandleFunc("/positions/{id}/liquidation", liquidations.EstimateLiquidation).Methods("GET")
		api.HandleFunc("/liquidators", liquidations.ListLiquidators).Methods("GET")
		api.Handle("/liquidators", signed(liquidations.RegisterLiquidator)).Methods("POST")
		api.HandleFunc("/liquidators/{address}", liquidations.GetLiquidator).Methods("GET")

		keeper := handlers.NewKeeperHandler(deps.Trading)
		api.HandleFunc("/keeper/targets", keeper.GetTargets).Methods("GET")
		api.HandleFunc("/keeper/refresh", keeper.RefreshTargets).Methods("POST")
		api.HandleFunc("/keeper/execute", keeper.ExecuteLiquidations).Methods("POST")
		api.HandleFunc("/keeper/last-batch", keeper.LastBatch).Methods("GET")

		insurance := handlers.NewInsuranceHandler(deps.Trading)
		api.HandleFunc("/insurance", insurance.GetStatus).Methods("GET")
		api.Handle("/insurance/contributions", signed(insurance.Contribute)).Methods("POST")
		api.HandleFunc("/insurance/claims", insurance.ListClaims).Methods("GET")
		api.HandleFunc("/insurance/distribute", insurance.DistributeRewards).Methods("POST")

		prices := handlers.NewPriceHandler(deps.Trading)
		api.HandleFunc("/prices"+symbolPath, prices.GetPrice).Methods("GET")
		api.HandleFunc("/prices"+symbolPath+"/twap", prices.GetTWAP).Methods("GET")
	}

	if deps.Events != nil {
		events := handlers.NewEventHandler(deps.Events)
		api.HandleFunc("/events", events.ListEvents).Methods("GET")
	}

	if deps.Governance != nil {
		gov := api.PathPrefix("/governance").Subrouter()
		gov.Use(middleware.GovernanceAuth(deps.Auth, deps.Logger))
		gov.MethodNotAllowedHandler = methodNotAllowed

		h := handlers.NewGovernanceHandler(deps.Governance)
		gov.HandleFunc("/markets", h.AddMarket).Methods("POST")
		gov.HandleFunc("/markets"+symbolPath+"/risk", h.SetRiskParameters).Methods("PUT")
		gov.HandleFunc("/markets"+symbolPath+"/active", h.SetMarketActive).Methods("PUT")
		gov.HandleFunc("/liquidators/{address}/active", h.SetLiquidatorActive).Methods("PUT")
		gov.HandleFunc("/claimants/{address}", h.AuthorizeClaimant).Methods("PUT")
		gov.HandleFunc("/claims/{id:[0-9]+}/approve", h.ApproveClaim).Methods("POST")
		gov.HandleFunc("/claims/{id:[0-9]+}/reject", h.RejectClaim).Methods("POST")
		gov.HandleFunc("/claims/{id:[0-9]+}/pay", h.PayClaim).Methods("POST")
		gov.HandleFunc("/prices"+symbolPath, h.SetManualPrice).Methods("PUT")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	health := handlers.NewHealthHandler(deps.Trading)
	router.HandleFunc("/health", health.Health).Methods("GET")

	return router
}
