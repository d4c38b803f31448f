package http

import (
	"shoplist-sync/internal/middleware"

	"github.com/gin-gonic/gin"
)

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// currentLogin 返回 Auth 中间件写入的用户名。缺失时写回 401 并返回 false。
func currentLogin(c *gin.Context) (string, bool) {
	login := c.GetString(middleware.LoginKey)
	if login == "" {
		ErrorResponse(c, 401, "User not authenticated")
		return "", false
	}
	return login, true
}
