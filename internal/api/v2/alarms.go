package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/expression"
)

// initAlarmRoutes registers the alarm endpoints.
func (c *Controller) initAlarmRoutes() {
	alarms := c.Group.Group("/alarms")

	alarms.GET("/schema", c.GetAlarmSchema)
	alarms.GET("/stats", c.GetEngineStats)
	alarms.GET("/definitions", c.ListDefinitions)
	alarms.GET("/definitions/:id", c.GetDefinition)
	alarms.POST("/expressions/validate", c.ValidateExpression)
	alarms.GET("/stream", c.stream.Serve)
}

func (c *Controller) GetAlarmSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

func (c *Controller) GetEngineStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.Stats())
}

// ListDefinitions returns every active definition with its current state.
// ?state=ALARM filters by overall state.
func (c *Controller) ListDefinitions(ctx echo.Context) error {
	defs := c.engine.Snapshot()
	if raw := ctx.QueryParam("state"); raw != "" {
		want, err := alerting.ParseState(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid state"})
		}
		filtered := defs[:0]
		for _, d := range defs {
			if d.State == want {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"definitions": defs,
		"count":       len(defs),
	})
}

func (c *Controller) GetDefinition(ctx echo.Context) error {
	id := ctx.Param("id")
	for _, d := range c.engine.Snapshot() {
		if d.ID == id {
			return ctx.JSON(http.StatusOK, d)
		}
	}
	return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alarm definition not found"})
}

type validateRequest struct {
	Expression string `json:"expression"`
}

type subExpressionView struct {
	Function   string            `json:"function"`
	Metric     string            `json:"metric"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
	Comparator string            `json:"comparator"`
	Threshold  float64           `json:"threshold"`
	Period     int               `json:"period"`
}

// ValidateExpression compiles an expression without registering it and
// returns its canonical form, or the parse error and its position.
func (c *Controller) ValidateExpression(ctx echo.Context) error {
	var req validateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	compiled, err := expression.Compile(req.Expression)
	if err != nil {
		var perr *expression.ParseError
		if errors.As(err, &perr) {
			return ctx.JSON(http.StatusUnprocessableEntity, map[string]any{
				"valid":    false,
				"error":    perr.Msg,
				"position": perr.Pos,
			})
		}
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]any{"valid": false, "error": err.Error()})
	}

	subs := make([]subExpressionView, len(compiled.SubExpressions))
	for i, s := range compiled.SubExpressions {
		subs[i] = subExpressionView{
			Function:   string(s.Function),
			Metric:     s.MetricName,
			Dimensions: s.Dimensions,
			Comparator: s.Comparator.String(),
			Threshold:  s.Threshold,
			Period:     s.Period,
		}
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"valid":           true,
		"canonical":       compiled.String(),
		"tree":            compiled.Tree.String(),
		"sub_expressions": subs,
	})
}
