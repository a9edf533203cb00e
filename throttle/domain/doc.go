// Package domain define contratos e tipos de domínio para o throttle de requisições externas.
//
// Este pacote não depende de Redis, net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de admissão
// (janela deslizante, espaçamento mínimo, backoff) dos detalhes de infraestrutura.
package domain
