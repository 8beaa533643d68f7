package service

import "errors"

// 业务层错误分类，handler 与网关据此映射 HTTP 状态码 / error 事件。
var (
	// ErrValidation 请求缺字段或字段非法（空群名、空消息等）。
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 目标不存在，或存在但请求者无权看见——二者刻意不区分。
	ErrNotFound = errors.New("not found")
	// ErrAuthorization 请求者缺少所需的关系或角色（非成员、非管理员、非发送者）。
	ErrAuthorization = errors.New("not authorized")
	// ErrInvalidOperation 当前状态下不允许的操作（编辑媒体消息、超时撤回、自聊）。
	ErrInvalidOperation = errors.New("operation not permitted")
	// ErrUpstream 协作方故障（对象存储、用户目录）。
	ErrUpstream = errors.New("upstream failure")
)
