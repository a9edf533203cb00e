// Package throttle limita as requisições que uma frota de workers independentes faz a sites
// externos sensíveis a rate limit, e coordena retry/backoff quando esses sites rejeitam
// requisições por excesso.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de Redis/net/http)
//   - application: casos de uso (registro de políticas, admissão, espera + backoff)
//   - infra: implementações concretas (janela no Redis, KV, estatísticas, semáforo)
//   - throttle (este pacote): adapters HTTP: fetcher de saída que reconhece 429 e a API admin
//
// Fluxo no worker:
//
//  1. Classifica a URL no domínio de rate limit (eTLD+1)
//  2. Espera a admissão (espaçamento local + janela deslizante compartilhada)
//  3. Executa a chamada externa
//  4. Se a chamada voltar 429, faz backoff exponencial e tenta de novo
//
// Variáveis de ambiente do binário (cmd/scrapeworker) controlam o comportamento,
// como REDIS_ADDR, RETRY_ATTEMPTS, RETRY_BACKOFF_BASE e WORKER_CONCURRENCY.
package throttle
