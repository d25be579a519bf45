package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
)

func TestScenarioA_CreateOrderVisibleAfterProjection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, err := env.commands.CreateOrder(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", orderID)

	_, err = env.queries.GetOrderView(ctx, orderID)
	assert.True(t, core.HasCode(err, core.ErrOrderNotFound), "view must not exist before projection")

	env.project(t)

	view, err := env.queries.GetOrderView(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderID, view.OrderID)
	assert.Equal(t, "cust-1", view.CustomerID)
	assert.Empty(t, view.Products)
	assert.NotNil(t, view.Products)
	assert.False(t, view.Confirmed)
	assert.Equal(t, int64(1), view.LastSequence)
}

func TestScenarioB_AddProductAndConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, err := env.commands.CreateOrder(ctx, "cust-1")
	require.NoError(t, err)
	require.NoError(t, env.commands.AddProduct(ctx, orderID, widget()))
	require.NoError(t, env.commands.ConfirmOrder(ctx, orderID))

	env.project(t)

	view, err := env.queries.GetOrderView(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, view.Products, 1)
	assert.True(t, view.Products[0].Equal(widget()))
	assert.True(t, view.Confirmed)
	assert.Equal(t, "19.98", view.Total().StringFixed(2))
	assert.Equal(t, 3, env.logLen(orderID))
}

func TestScenarioC_ConfirmUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	err := env.commands.ConfirmOrder(context.Background(), "Y")
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrOrderNotFound))
	assert.Zero(t, env.logLen("Y"))
	assert.Zero(t, env.publisher.calls)
}

func TestScenarioD_AddProductAfterConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, err := env.commands.CreateOrder(ctx, "cust-1")
	require.NoError(t, err)
	require.NoError(t, env.commands.AddProduct(ctx, orderID, widget()))
	require.NoError(t, env.commands.ConfirmOrder(ctx, orderID))
	before := env.logLen(orderID)

	err = env.commands.AddProduct(ctx, orderID, gadget())
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrInvalidState))
	assert.ErrorIs(t, err, domain.ErrOrderConfirmed)
	assert.Equal(t, before, env.logLen(orderID))
}
