package rbac

import "fmt"

// 权限常量
const (
	PermissionReadNotification   = "notification:read"
	PermissionUpdateNotification = "notification:update"
	PermissionWritePreference    = "preference:write"

	// 管理操作：查看 / 重放 dead 任务，为其他用户初始化偏好，修改任意用户的通知
	PermissionManageJobs            = "jobs:manage"
	PermissionProvisionAnyUser      = "preference:provision_any"
	PermissionUpdateAnyNotification = "notification:update_any"
)

// 角色常量
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleService = "service"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadNotification,
		PermissionUpdateNotification,
		PermissionWritePreference,
	},
	RoleAdmin: {
		PermissionReadNotification,
		PermissionUpdateNotification,
		PermissionUpdateAnyNotification,
		PermissionWritePreference,
		PermissionManageJobs,
		PermissionProvisionAnyUser,
	},
	// 用户服务在注册时调用偏好初始化
	RoleService: {
		PermissionWritePreference,
		PermissionProvisionAnyUser,
	},
}

// NormalizeRole 未知或空角色按普通用户处理
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 返回错误而不是布尔值，便于处理
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{UserID: userID, Permission: permission}
	}
	return nil
}

type PermissionDeniedError struct {
	UserID     string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient permissions: %s", e.Permission)
}

// ValidateUserIDInPayload 请求体里的 userId 必须是调用者本人，除非角色允许代他人操作
func ValidateUserIDInPayload(tokenUserID, role, payloadUserID string) error {
	if payloadUserID == tokenUserID || HasPermission(role, PermissionProvisionAnyUser) {
		return nil
	}
	return &UserIDMismatchError{TokenUserID: tokenUserID, PayloadUserID: payloadUserID}
}

type UserIDMismatchError struct {
	TokenUserID   string
	PayloadUserID string
}

func (e *UserIDMismatchError) Error() string {
	return "userId in payload does not match token"
}
