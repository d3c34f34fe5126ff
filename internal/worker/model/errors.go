package model

import "errors"

// 核心错误分类，调用方用 errors.Is 判断
var (
	// ErrProvider 链上RPC/网络故障
	ErrProvider = errors.New("chain provider error")
	// ErrPersistenceUnavailable 持久层不可用
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrValidation 配置或入参校验失败
	ErrValidation = errors.New("validation error")
	// ErrExecution 域执行器执行失败
	ErrExecution = errors.New("execution failure")
	// ErrTimeout 外部调用超时
	ErrTimeout = errors.New("timeout")
)
