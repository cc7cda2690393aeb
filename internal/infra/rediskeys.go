package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "bookflow"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyReload — сигнал перечитать активную политику риска из базы.
	RedisChanPolicyReload = RedisNamespace + ":policy:reload"
)
