package utils

import (
	"github.com/kataras/iris/v12"
)

func JSONError(ctx iris.Context, status int, code, message string) {
	ctx.StatusCode(status)
	ctx.JSON(iris.Map{"error": code, "message": message})
}

// JSONOK wraps a successful payload in the {ok, data} envelope the dashboard
// expects.
func JSONOK(ctx iris.Context, data interface{}) {
	ctx.JSON(iris.Map{"ok": true, "data": data})
}

func HandleValidationErrors(err error, ctx iris.Context) {
	ctx.StatusCode(iris.StatusUnprocessableEntity)
	ctx.JSON(iris.Map{"error": "validation", "message": err.Error()})
}
