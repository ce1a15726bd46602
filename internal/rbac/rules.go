package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"test:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"comment:add",
		"comment:edit",
	},
	"teacher": {
		"test:create",
		"test:view",
		"test:view-keys",
		"question:edit",
		"attempt:view-all",
		"attempt:grade",
		"attempt:sweep",
		"comment:add",
		"comment:edit",
	},
	"admin": {
		"*", // everything
	},
}
