package domain

import "errors"

var (
	ErrModuleCodeRequired     = errors.New("module_code_required")
	ErrCoreModuleProtected    = errors.New("core_module_protected")
	ErrForbidden              = errors.New("forbidden")
	ErrLegacyAccountImmutable = errors.New("legacy_account_immutable")
	ErrModuleNotEnabled       = errors.New("module_not_enabled")
	ErrAlreadyDisabled        = errors.New("already_disabled")
	ErrAlreadyEnabled         = errors.New("already_enabled")
)
