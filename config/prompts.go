package config

const DefaultSystemPrompt = `Você é um assistente prestativo e empático que oferece conselhos construtivos e solidários para posts do r/desabafos.`

const DefaultAdviceTemplate = `O seguinte post foi feito no subreddit r/desabafos. Por favor, leia o título e o corpo do post e forneça um conselho ou uma perspectiva útil, empática e construtiva para o autor original (OP). Concentre-se em ser solidário e evite julgamentos.

Título: {{title}}

Corpo:
{{body}}

Seu conselho/perspectiva para o OP:`

const DefaultVerifySystemPrompt = `Você é um classificador de comentários. Analise o comentário no contexto do post original e responda apenas 'Sim' ou 'Não' à pergunta feita.`

const DefaultVerifyTemplate = `Contexto: Post Original no r/desabafos
Título: {{title}}
Corpo: {{body}}
---
Comentário feito neste post:
"{{comment}}"
---
Pergunta: Este comentário está fornecendo conselho direto, apoio emocional, uma perspectiva relevante ou uma pergunta construtiva em resposta direta ao conteúdo e desabafo do post original? Foque em diferenciar conselhos/apoio de mensagens automáticas de MOD, perguntas genéricas não relacionadas ao desabafo (ex: "O que aconteceu?"), ou meta-comentários sobre o Reddit.

Responda APENAS com "Sim" ou "Não".`
