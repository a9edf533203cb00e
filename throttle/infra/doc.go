// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowStore: janela deslizante compartilhada via sorted set (MULTI/EXEC)
//   - RedisKV: snapshots de configuração e caches com TTL
//   - RedisStatsStore / MemoryStatsStore: contadores de admissão
//   - ChanPool: semáforo simples para limite de concorrência
//
// As versões Memory* existem para testes e para rodar um único processo sem Redis.
package infra
