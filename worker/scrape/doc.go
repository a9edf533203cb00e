// Package scrape contém o processador de jobs de scraping (busca e atualização de preço de
// concorrentes) e o agendador que enfileira as atualizações periódicas.
//
// Toda chamada de saída passa pelo application.Executor: espera a admissão do domínio,
// chama o marketplace e, se o site responder 429, faz backoff e tenta de novo.
package scrape
