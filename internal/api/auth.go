package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"socialnotify/pkg/rbac"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"

	// 网关校验 JWT 后透传的身份头
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	CookieName     = "access_token"
)

// GenerateToken creates an HS256 token for userID.
func GenerateToken(userID, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenStr and extracts the user id and role.
// The id is read from sub, userId or user_id, whichever is present.
func ParseToken(tokenStr, secret string) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", jwt.ErrTokenMalformed
	}

	var userID string
	for _, key := range []string{"sub", "userId", "user_id"} {
		switch v := claims[key].(type) {
		case string:
			userID = v
		case float64:
			userID = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if userID != "" {
			break
		}
	}
	if userID == "" {
		return "", "", jwt.ErrTokenInvalidClaims
	}

	role, _ := claims["role"].(string)
	return userID, rbac.NormalizeRole(role), nil
}

// ExtractToken 先看 Authorization: Bearer，再看 access_token cookie
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

var errUnauthenticated = errors.New("user not authenticated")

// Identity resolves the caller from a JWT, or from gateway headers when trusted.
func Identity(secret string, trustGatewayHeaders bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := ExtractToken(c.Request); token != "" {
			userID, role, err := ParseToken(token, secret)
			if err != nil {
				abortWithError(c, http.StatusUnauthorized, "invalid token")
				return
			}
			c.Set(ctxUserID, userID)
			c.Set(ctxRole, role)
			c.Next()
			return
		}

		if trustGatewayHeaders {
			if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
				c.Set(ctxUserID, userID)
				c.Set(ctxRole, gatewayRole(c.GetHeader(HeaderUserRole)))
				c.Next()
				return
			}
		}

		abortWithError(c, http.StatusUnauthorized, errUnauthenticated.Error())
	}
}

// gatewayRole admin 只能来自签名的 token，头里声明的 admin 按普通用户处理
func gatewayRole(raw string) string {
	role := rbac.NormalizeRole(raw)
	if role == rbac.RoleAdmin {
		return rbac.RoleUser
	}
	return role
}

// RequirePermission 必须挂在 Identity 之后
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role := identityFrom(c)
		if err := rbac.CheckPermission(userID, role, permission); err != nil {
			abortWithError(c, http.StatusForbidden, err.Error())
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) (string, string) {
	return c.GetString(ctxUserID), c.GetString(ctxRole)
}
