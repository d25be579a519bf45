package application

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/orderflow/domain"
	resttransport "github.com/akriventsev/orderflow/framework/adapters/transport"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/infrastructure/readmodel"
)

// CreateOrderRequest тело POST /orders
type CreateOrderRequest struct {
	CustomerID string `json:"customerId" binding:"required"`
}

// CreateOrderResponse ответ POST /orders
type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
}

// AddItemRequest тело POST /orders/:id/items
type AddItemRequest struct {
	ProductID string           `json:"productId" binding:"required"`
	Name      string           `json:"name" binding:"required"`
	Price     *decimal.Decimal `json:"price" binding:"required"`
	Quantity  int              `json:"quantity"`
}

// OrderResponse ответ GET /orders/:id
type OrderResponse struct {
	OrderID    string           `json:"orderId"`
	CustomerID string           `json:"customerId"`
	Items      []domain.Product `json:"items"`
	Confirmed  bool             `json:"confirmed"`
	Total      decimal.Decimal  `json:"total"`
}

// NewOrderResponse строит ответ из представления
func NewOrderResponse(view readmodel.OrderView) OrderResponse {
	items := view.Products
	if items == nil {
		items = []domain.Product{}
	}
	return OrderResponse{
		OrderID:    view.OrderID,
		CustomerID: view.CustomerID,
		Items:      items,
		Confirmed:  view.Confirmed,
		Total:      view.Total(),
	}
}

// OrderHTTPHandler REST API заказов
type OrderHTTPHandler struct {
	commands *CommandHandler
	queries  *QueryService
}

// NewOrderHTTPHandler создает HTTP обработчик
func NewOrderHTTPHandler(commands *CommandHandler, queries *QueryService) *OrderHTTPHandler {
	return &OrderHTTPHandler{commands: commands, queries: queries}
}

// Register регистрирует маршруты /orders
func (h *OrderHTTPHandler) Register(r gin.IRouter) {
	orders := r.Group("/orders")
	orders.POST("", h.createOrder)
	orders.POST("/:id/items", h.addItem)
	orders.POST("/:id/confirm", h.confirmOrder)
	orders.GET("/:id", h.getOrder)
}

func (h *OrderHTTPHandler) createOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resttransport.WriteError(c, core.Wrap(err, core.ErrInvalidInput, "invalid request body"))
		return
	}

	orderID, err := h.commands.CreateOrder(c.Request.Context(), req.CustomerID)
	if err != nil {
		resttransport.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateOrderResponse{OrderID: orderID})
}

func (h *OrderHTTPHandler) addItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resttransport.WriteError(c, core.Wrap(err, core.ErrInvalidInput, "invalid request body"))
		return
	}

	product := domain.Product{
		ProductID: req.ProductID,
		Name:      req.Name,
		Price:     *req.Price,
		Quantity:  req.Quantity,
	}
	if err := h.commands.AddProduct(c.Request.Context(), c.Param("id"), product); err != nil {
		resttransport.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHTTPHandler) confirmOrder(c *gin.Context) {
	if err := h.commands.ConfirmOrder(c.Request.Context(), c.Param("id")); err != nil {
		resttransport.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHTTPHandler) getOrder(c *gin.Context) {
	view, err := h.queries.GetOrderView(c.Request.Context(), c.Param("id"))
	if err != nil {
		resttransport.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOrderResponse(view))
}
