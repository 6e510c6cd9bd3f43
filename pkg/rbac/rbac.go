package rbac

import "fmt"

// 权限常量
const (
	PermissionTicketCreate = "ticket:create"
	PermissionTicketUpdate = "ticket:update"
	PermissionTicketRead   = "ticket:read"
	PermissionDashboard    = "realtime:dashboard"
	PermissionFailedReplay = "admin:failed_events"
	PermissionOutboxReplay = "admin:outbox"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionTicketCreate,
		PermissionTicketUpdate,
		PermissionTicketRead,
	},
	RoleAgent: {
		PermissionTicketCreate,
		PermissionTicketUpdate,
		PermissionTicketRead,
		PermissionDashboard,
	},
	RoleAdmin: {
		PermissionTicketCreate,
		PermissionTicketUpdate,
		PermissionTicketRead,
		PermissionDashboard,
		PermissionFailedReplay,
		PermissionOutboxReplay,
	},
}

// HasPermission 检查角色是否有指定权限，未知角色按 user 处理
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		permissions = rolePermissions[RoleUser]
	}
	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查权限，无权限时返回错误
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return fmt.Errorf("permission denied: %s", permission)
	}
	return nil
}

// IsKnownRole 是否为已定义的角色
func IsKnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}
