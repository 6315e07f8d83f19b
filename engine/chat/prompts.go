package chat

// FallbackAnswer is the exact sentence the model is instructed to return when
// the retrieved context cannot support an answer. Verification and the tests
// match this string verbatim, so it must never drift from the prompt below.
const FallbackAnswer = "I'm sorry, I couldn't find the information you're looking for."

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

<chat_history>
  %s
</chat_history>

Follow Up Input: %s
Standalone question:`

const answerTemplate = `You are an expert in this subject area. Please use the following information to answer the question as accurately and clearly as possible and be as natural as possible. and where needed provide answers in numbering.
if a user asks questions like "hello", "hi", "hey", "how are you", "good morning", "good afternoon",
    "good evening", "what's up", "nice to meet you" answer them like a normal person would not following context.

Answer the question based ONLY on the following context and chat history:
<context>
  %s
</context>

<chat_history>
  %s
</chat_history>

Question: %s
IMPORTANT: If the question cannot be answered specifically and accurately using ONLY the information provided in the context above, you MUST respond with EXACTLY the following message:
"I'm sorry, I couldn't find the information you're looking for."

Do not use any external knowledge or information not provided in the context.

Answer:
`

const verifyTemplate = `You are a verification assistant. Your task is to verify if the given answer is relevant to the question and specifically about %[1]s.

Question: %[2]s
Answer: %[3]s

Is this answer relevant to the question and specifically about %[1]s? Respond with YES or NO, followed by a brief explanation.

Response:`

const rephraseTemplate = `Please rephrase the question to be more specific about %s: %s`

const redirectTemplate = `I apologize, but I couldn't generate a relevant answer about %[1]s. Could you please rephrase your question or ask something more specific about %[1]s?`

const greetingTemplate = `You are a friendly assistant. The user greeted you with: %q
Reply with a short, natural greeting and offer to help. Do not mention any documents or context.`
