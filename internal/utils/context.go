package utils

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

type CustomContext struct {
	AppSource  string
	CustomerId string
	UserId     string
	RunId      string
}

type customContextKeyType string

const customContextKey customContextKeyType = "CUSTOM_CONTEXT"

func WithCustomContext(ctx context.Context, customContext *CustomContext) context.Context {
	return context.WithValue(ctx, customContextKey, customContext)
}

func WithCustomContextFromGinRequest(c *gin.Context, appSource string) context.Context {
	customContext := &CustomContext{
		AppSource:  appSource,
		CustomerId: c.Param("customerId"),
		UserId:     c.Param("userId"),
	}
	return WithCustomContext(c.Request.Context(), customContext)
}

func GetContext(ctx context.Context) *CustomContext {
	customContext, ok := ctx.Value(customContextKey).(*CustomContext)
	if !ok {
		return new(CustomContext)
	}
	return customContext
}

func GetAppSourceFromContext(ctx context.Context) string {
	return GetContext(ctx).AppSource
}

func GetCustomerIdFromContext(ctx context.Context) string {
	return GetContext(ctx).CustomerId
}

func GetUserIdFromContext(ctx context.Context) string {
	return GetContext(ctx).UserId
}

func GetRunIdFromContext(ctx context.Context) string {
	return GetContext(ctx).RunId
}

// WithUser returns a child context carrying the user and customer ids.
func WithUser(ctx context.Context, userId, customerId int64) context.Context {
	current := GetContext(ctx)
	return WithCustomContext(ctx, &CustomContext{
		AppSource:  current.AppSource,
		CustomerId: strconv.FormatInt(customerId, 10),
		UserId:     strconv.FormatInt(userId, 10),
		RunId:      current.RunId,
	})
}

func WithRunId(ctx context.Context, runId string) context.Context {
	current := *GetContext(ctx)
	current.RunId = runId
	return WithCustomContext(ctx, &current)
}
