package domain

// Order агрегат заказа с буфером незафиксированных событий.
// Оболочка над Execute для кода, который работает с экземпляром агрегата.
type Order struct {
	factory     EventFactory
	state       State
	uncommitted []Event
}

// NewOrder создает пустой агрегат для восстановления из журнала
func NewOrder(f EventFactory) *Order {
	return &Order{factory: f}
}

// Create создает новый заказ и записывает OrderCreated в буфер
func Create(f EventFactory, orderID, customerID string) *Order {
	o := NewOrder(f)
	e := f.NewEvent(orderID, 1, OrderCreated{CustomerID: customerID})
	o.state = o.state.Apply(e)
	o.uncommitted = append(o.uncommitted, e)
	return o
}

// Load восстанавливает агрегат из истории
func Load(f EventFactory, history []Event) *Order {
	o := NewOrder(f)
	for _, e := range history {
		o.Apply(e)
	}
	return o
}

// Apply применяет историческое событие
func (o *Order) Apply(e Event) {
	o.state = o.state.Apply(e)
}

// AddItem добавляет позицию в заказ
func (o *Order) AddItem(p Product) error {
	return o.execute(AddProduct{Product: p})
}

// Confirm подтверждает заказ
func (o *Order) Confirm() error {
	return o.execute(ConfirmOrder{})
}

func (o *Order) execute(cmd Command) error {
	state, events, err := Execute(o.factory, o.state, cmd)
	if err != nil {
		return err
	}
	o.state = state
	o.uncommitted = append(o.uncommitted, events...)
	return nil
}

// DrainUncommitted возвращает и очищает незафиксированные события
func (o *Order) DrainUncommitted() []Event {
	events := o.uncommitted
	o.uncommitted = nil
	if events == nil {
		return []Event{}
	}
	return events
}

// State возвращает снимок состояния
func (o *Order) State() State {
	return o.state
}

// ID идентификатор заказа
func (o *Order) ID() string { return o.state.OrderID }

// CustomerID идентификатор покупателя
func (o *Order) CustomerID() string { return o.state.CustomerID }

// IsConfirmed сообщает, подтвержден ли заказ
func (o *Order) IsConfirmed() bool { return o.state.Confirmed }

// Version номер последнего примененного события
func (o *Order) Version() int64 { return o.state.Version }

// Products возвращает копию списка позиций
func (o *Order) Products() []Product {
	out := make([]Product, len(o.state.Products))
	copy(out, o.state.Products)
	return out
}
