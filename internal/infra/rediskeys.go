package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agpay"
)

// Ключи для Sets (состояние)
const (
	RedisKeyPausedAgents      = RedisNamespace + ":agents:paused_set"
	RedisKeySuspendedAgents   = RedisNamespace + ":agents:suspended_set"
	RedisKeyLockPausedWarm    = RedisNamespace + ":lock:warmup:paused"
	RedisKeyLockSuspendedWarm = RedisNamespace + ":lock:warmup:suspended"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions — канал для трансляции решений оператора (HITL).
	// Формат сообщения: "purchase_intent_id:approved" либо "purchase_intent_id:rejected".
	RedisChanApprovalDecisions = RedisNamespace + ":approvals"

	// RedisChanAgentStatus — сигналы pause/resume/suspend из консоли.
	// Формат сообщения: "agent_id:active|paused|suspended".
	RedisChanAgentStatus = RedisNamespace + ":agents:status-signal"
)

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
