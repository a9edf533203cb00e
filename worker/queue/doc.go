// Package queue é a fila de jobs atrasados sobre Redis usada pelos workers.
//
// Cada job fica num sorted set pontuado pelo instante (ms) em que pode rodar. Um script Lua
// retira atomicamente o primeiro job pronto, então vários processos podem consumir a mesma fila.
// Falhas comuns voltam para a fila com backoff exponencial; erros marcados com Unrecoverable
// e jobs sem tentativas restantes vão para a lista de falhas.
package queue
