// Package session содержит доменную модель учебной сессии с AI-тьютором.
//
// Пакет определяет:
//
//   - Закрытые перечисления: State (верхнеуровневые состояния), Phase (фазы
//     обучения внутри концепта), UnderstandingLevel (грубая оценка понимания)
//   - Чистую функцию переходов Transition
//   - Сущности: SessionState, TeachingState, FeedbackRecord
//   - Точки расширения: UnderstandingClassifier, ConceptSelector
//   - Интерфейсы хранилищ: StateStore, TeachingStore, Repository,
//     TeachingRepository, FeedbackRepository
//
// # Цикл сессии
//
//	initializing → curriculum_generation → teaching_explain → teaching_example
//	→ teaching_practice → assessment → feedback_analysis → progression_check
//	→ (teaching_explain | session_complete)
//
// Любая ошибка действия переводит сессию в error; из error следующий advance
// возвращает её в teaching_explain. После трёх ошибок подряд сессия помечается
// как failed в долговременном хранилище.
//
// # Архитектурные принципы
//
// Пакет не зависит от инфраструктуры: кэш, БД и внешние сервисы подключаются
// через интерфейсы, реализации находятся в infrastructure.
package session
