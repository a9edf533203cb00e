// Package application contém os casos de uso do throttle: registro de políticas por
// domínio, checagem de admissão (janela deslizante + espaçamento local) e o wrapper
// "espera, executa e faz backoff em 429".
//
// Ele depende apenas do pacote domain e não conhece Redis nem net/http.
// Ex.: Service.Check(ctx, url) retorna quanto esperar (0 = pode seguir agora).
package application
